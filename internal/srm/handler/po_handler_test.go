package handler

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/haseebsahi/refinery-po-system/internal/shared/lock"
	"github.com/haseebsahi/refinery-po-system/internal/srm/catalog"
	"github.com/haseebsahi/refinery-po-system/internal/srm/repository"
	"github.com/haseebsahi/refinery-po-system/internal/srm/service"
	"github.com/haseebsahi/refinery-po-system/internal/srm/sse"
	"github.com/haseebsahi/refinery-po-system/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const ordersPath = APIPrefix + "/orders"

func setupPOTest(t *testing.T, global ...gin.HandlerFunc) *testutil.TestEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	testutil.SeedCatalogItem(t, db, "X", "AcmeValves", "120")
	testutil.SeedCatalogItem(t, db, "X2", "AcmeValves", "35.50")
	testutil.SeedCatalogItem(t, db, "Y", "BetaPumps", "50")

	repos := repository.NewRepositories(db)
	procurementSvc := service.NewProcurementService(repos, catalog.NewDBResolver(repos.Catalog), lock.NewMemoryLocker(), nil)
	exportSvc := service.NewExportService(repos.PO)
	importSvc := service.NewCatalogImportService(repos, nil)
	handlers := NewHandlers(procurementSvc, exportSvc, importSvc, sse.NewHub(nil), nil)

	router := testutil.SetupRouter()
	router.Use(global...)
	RegisterRoutes(router, handlers, testutil.TestAuth)

	return &testutil.TestEnv{DB: db, Router: router, T: t}
}

func dataOf(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	resp := testutil.ParseResponse(w)
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %s", w.Body.String())
	return data
}

func assertError(t *testing.T, w *httptest.ResponseRecorder, status, code int, kind string) {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	resp := testutil.ParseResponse(w)
	assert.Equal(t, float64(code), resp["code"])
	assert.Equal(t, kind, resp["kind"])
}

func createPO(t *testing.T, env *testutil.TestEnv, supplier string) string {
	t.Helper()
	w := testutil.DoRequest(env.Router, "POST", ordersPath, map[string]interface{}{
		"supplier": supplier,
	}, testutil.DefaultTestToken())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return dataOf(t, w)["id"].(string)
}

func addLine(env *testutil.TestEnv, poID, itemID string, qty int) *httptest.ResponseRecorder {
	return testutil.DoRequest(env.Router, "POST", ordersPath+"/"+poID+"/lines", map[string]interface{}{
		"catalog_item_id": itemID,
		"quantity":        qty,
	}, testutil.DefaultTestToken())
}

func TestHealthIsPublic(t *testing.T) {
	env := setupPOTest(t)
	w := testutil.DoRequest(env.Router, "GET", "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoutesRequireAuth(t *testing.T) {
	env := setupPOTest(t)
	w := testutil.DoRequest(env.Router, "GET", ordersPath, nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreatePOHandler(t *testing.T) {
	env := setupPOTest(t)

	t.Run("requestor falls back to token name", func(t *testing.T) {
		w := testutil.DoRequest(env.Router, "POST", ordersPath, map[string]interface{}{
			"supplier":       "AcmeValves",
			"needed_by_date": "2026-12-01",
		}, testutil.DefaultTestToken())
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		data := dataOf(t, w)
		assert.Equal(t, "Test Admin", data["requestor"])
		assert.Equal(t, "Draft", data["current_status"])
		assert.Equal(t, "Net 30", data["payment_terms"])
		assert.Equal(t, "2026-12-01", data["needed_by_date"])
		assert.Regexp(t, `^PO-\d{4}-\d{4}$`, data["po_number"])
		history := data["status_history"].([]interface{})
		require.Len(t, history, 1)
	})

	t.Run("validation error", func(t *testing.T) {
		w := testutil.DoRequest(env.Router, "POST", ordersPath, map[string]interface{}{
			"supplier": "  ",
		}, testutil.DefaultTestToken())
		assertError(t, w, http.StatusBadRequest, 40001, "ValidationError")
	})

	t.Run("bad date", func(t *testing.T) {
		w := testutil.DoRequest(env.Router, "POST", ordersPath, map[string]interface{}{
			"supplier":       "AcmeValves",
			"needed_by_date": "2026-02-30",
		}, testutil.DefaultTestToken())
		assertError(t, w, http.StatusBadRequest, 40001, "ValidationError")
	})

	t.Run("malformed json", func(t *testing.T) {
		w := testutil.DoRequest(env.Router, "POST", ordersPath, "not an object", testutil.DefaultTestToken())
		assertError(t, w, http.StatusBadRequest, 40001, "ValidationError")
	})
}

func TestCreatePOIdempotencyHeader(t *testing.T) {
	env := setupPOTest(t)
	key := uuid.New().String()
	headers := map[string]string{IdempotencyHeader: key}
	body := map[string]interface{}{"supplier": "AcmeValves"}

	first := testutil.DoRequestWithHeaders(env.Router, "POST", ordersPath, body, testutil.DefaultTestToken(), headers)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := testutil.DoRequestWithHeaders(env.Router, "POST", ordersPath, body, testutil.DefaultTestToken(), headers)
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())
	assert.Equal(t, dataOf(t, first)["id"], dataOf(t, second)["id"])

	bad := testutil.DoRequestWithHeaders(env.Router, "POST", ordersPath, body, testutil.DefaultTestToken(),
		map[string]string{IdempotencyHeader: "abc"})
	assertError(t, bad, http.StatusBadRequest, 40001, "ValidationError")
}

func TestGetPOHandler(t *testing.T) {
	env := setupPOTest(t)
	id := createPO(t, env, "AcmeValves")

	w := testutil.DoRequest(env.Router, "GET", ordersPath+"/"+id, nil, testutil.DefaultTestToken())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, dataOf(t, w)["id"])

	w = testutil.DoRequest(env.Router, "GET", ordersPath+"/"+uuid.New().String(), nil, testutil.DefaultTestToken())
	assertError(t, w, http.StatusNotFound, 40401, "NotFound")
}

func TestLineItemHandlers(t *testing.T) {
	env := setupPOTest(t)
	id := createPO(t, env, "AcmeValves")

	w := addLine(env, id, "X", 3)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	line := dataOf(t, w)
	lineID := line["id"].(string)
	assert.Equal(t, float64(3), line["quantity"])

	w = addLine(env, id, "X", 2)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, lineID, dataOf(t, w)["id"])
	assert.Equal(t, float64(5), dataOf(t, w)["quantity"])

	w = addLine(env, id, "Y", 1)
	assertError(t, w, http.StatusConflict, 40901, "SupplierMismatch")

	w = addLine(env, id, "missing", 1)
	assertError(t, w, http.StatusNotFound, 40401, "NotFound")

	w = addLine(env, id, "X", 0)
	assertError(t, w, http.StatusBadRequest, 40001, "ValidationError")

	w = addLine(env, id, "X", 9996)
	assertError(t, w, http.StatusBadRequest, 40002, "QuantityExceeded")

	w = testutil.DoRequest(env.Router, "PATCH", ordersPath+"/"+id+"/lines/"+lineID,
		map[string]interface{}{"quantity": 7}, testutil.DefaultTestToken())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(7), dataOf(t, w)["quantity"])

	w = testutil.DoRequest(env.Router, "GET", ordersPath+"/"+id, nil, testutil.DefaultTestToken())
	po := dataOf(t, w)
	total, err := decimal.NewFromString(po["total_amount"].(string))
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(840)), "total %s", total)

	w = testutil.DoRequest(env.Router, "DELETE", ordersPath+"/"+id+"/lines/"+lineID, nil, testutil.DefaultTestToken())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = testutil.DoRequest(env.Router, "DELETE", ordersPath+"/"+id+"/lines/"+lineID, nil, testutil.DefaultTestToken())
	assertError(t, w, http.StatusNotFound, 40401, "NotFound")
}

func TestSubmitAndTransitionHandlers(t *testing.T) {
	env := setupPOTest(t)
	id := createPO(t, env, "AcmeValves")

	// 空订单不可提交
	w := testutil.DoRequest(env.Router, "POST", ordersPath+"/"+id+"/submit", nil, testutil.DefaultTestToken())
	assertError(t, w, http.StatusUnprocessableEntity, 42203, "EmptyOrder")

	require.Equal(t, http.StatusCreated, addLine(env, id, "X", 1).Code)

	w = testutil.DoRequest(env.Router, "POST", ordersPath+"/"+id+"/submit",
		map[string]interface{}{"note": "  urgent  "}, testutil.DefaultTestToken())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	po := dataOf(t, w)
	assert.Equal(t, "Submitted", po["current_status"])
	history := po["status_history"].([]interface{})
	require.Len(t, history, 2)
	assert.Equal(t, "urgent", history[1].(map[string]interface{})["note"])

	// 非草稿不可编辑
	w = addLine(env, id, "X", 1)
	assertError(t, w, http.StatusUnprocessableEntity, 42201, "InvalidState")
	w = testutil.DoRequest(env.Router, "PATCH", ordersPath+"/"+id,
		map[string]interface{}{"cost_center": "CC-9"}, testutil.DefaultTestToken())
	assertError(t, w, http.StatusUnprocessableEntity, 42201, "InvalidState")

	// 采购员无审批权限
	w = testutil.DoRequest(env.Router, "POST", ordersPath+"/"+id+"/status",
		map[string]interface{}{"status": "Approved"}, testutil.BuyerTestToken())
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = testutil.DoRequest(env.Router, "POST", ordersPath+"/"+id+"/status",
		map[string]interface{}{"status": "Fulfilled"}, testutil.DefaultTestToken())
	assertError(t, w, http.StatusUnprocessableEntity, 42202, "InvalidTransition")

	w = testutil.DoRequest(env.Router, "POST", ordersPath+"/"+id+"/status",
		map[string]interface{}{"status": "Shipped"}, testutil.DefaultTestToken())
	assertError(t, w, http.StatusBadRequest, 40001, "ValidationError")

	w = testutil.DoRequest(env.Router, "POST", ordersPath+"/"+id+"/status",
		map[string]interface{}{"status": "Approved", "note": "ok"}, testutil.DefaultTestToken())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Approved", dataOf(t, w)["current_status"])

	w = testutil.DoRequest(env.Router, "PUT", ordersPath+"/"+id+"/history/Submitted/note",
		map[string]interface{}{"note": "rewritten"}, testutil.DefaultTestToken())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	history = dataOf(t, w)["status_history"].([]interface{})
	assert.Equal(t, "rewritten", history[1].(map[string]interface{})["note"])

	w = testutil.DoRequest(env.Router, "PUT", ordersPath+"/"+id+"/history/Rejected/note",
		map[string]interface{}{"note": "x"}, testutil.DefaultTestToken())
	assertError(t, w, http.StatusNotFound, 40401, "NotFound")
}

func TestUpdateHeaderHandler(t *testing.T) {
	env := setupPOTest(t)
	id := createPO(t, env, "AcmeValves")

	w := testutil.DoRequest(env.Router, "PATCH", ordersPath+"/"+id,
		map[string]interface{}{}, testutil.DefaultTestToken())
	assertError(t, w, http.StatusBadRequest, 40001, "ValidationError")

	w = testutil.DoRequest(env.Router, "PATCH", ordersPath+"/"+id, map[string]interface{}{
		"cost_center":   "CC-42",
		"payment_terms": "Net 60",
	}, testutil.BuyerTestToken())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := dataOf(t, w)
	assert.Equal(t, "CC-42", data["cost_center"])
	assert.Equal(t, "Net 60", data["payment_terms"])

	w = testutil.DoRequest(env.Router, "PATCH", ordersPath+"/"+id, map[string]interface{}{
		"needed_by_date": "2026-09-30",
	}, testutil.BuyerTestToken())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "2026-09-30", dataOf(t, w)["needed_by_date"])

	w = testutil.DoRequest(env.Router, "PATCH", ordersPath+"/"+id, map[string]interface{}{
		"needed_by_date": nil,
	}, testutil.BuyerTestToken())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data = dataOf(t, w)
	assert.Nil(t, data["needed_by_date"])
	assert.Equal(t, "CC-42", data["cost_center"])

	w = testutil.DoRequest(env.Router, "PATCH", ordersPath+"/"+id, map[string]interface{}{
		"cost_center": 42,
	}, testutil.BuyerTestToken())
	assertError(t, w, http.StatusBadRequest, 40001, "ValidationError")
}

func TestListPOsHandler(t *testing.T) {
	env := setupPOTest(t)
	acme := createPO(t, env, "AcmeValves")
	createPO(t, env, "BetaPumps")
	require.Equal(t, http.StatusCreated, addLine(env, acme, "X", 1).Code)
	w := testutil.DoRequest(env.Router, "POST", ordersPath+"/"+acme+"/submit", nil, testutil.DefaultTestToken())
	require.Equal(t, http.StatusOK, w.Code)

	w = testutil.DoRequest(env.Router, "GET", ordersPath+"?limit=500&page=0", nil, testutil.DefaultTestToken())
	require.Equal(t, http.StatusOK, w.Code)
	data := dataOf(t, w)
	assert.Len(t, data["items"], 2)
	pagination := data["pagination"].(map[string]interface{})
	assert.Equal(t, float64(1), pagination["page"])
	assert.Equal(t, float64(100), pagination["page_size"])
	assert.Equal(t, float64(2), pagination["total"])

	w = testutil.DoRequest(env.Router, "GET", ordersPath+"?status=Submitted", nil, testutil.DefaultTestToken())
	require.Equal(t, http.StatusOK, w.Code)
	items := dataOf(t, w)["items"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, acme, items[0].(map[string]interface{})["id"])

	w = testutil.DoRequest(env.Router, "GET", ordersPath+"?supplier=BetaPumps", nil, testutil.DefaultTestToken())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, dataOf(t, w)["items"], 1)

	w = testutil.DoRequest(env.Router, "GET", ordersPath+"?status=submitted", nil, testutil.DefaultTestToken())
	assertError(t, w, http.StatusBadRequest, 40001, "ValidationError")
}

func TestExportPOHandler(t *testing.T) {
	env := setupPOTest(t)
	id := createPO(t, env, "AcmeValves")
	require.Equal(t, http.StatusCreated, addLine(env, id, "X2", 2).Code)

	w := testutil.DoRequest(env.Router, "GET", ordersPath+"/"+id+"/export", nil, testutil.DefaultTestToken())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	item, _ := f.GetCellValue("PO", "B11")
	assert.Equal(t, "X2", item)

	w = testutil.DoRequest(env.Router, "GET", ordersPath+"/"+uuid.New().String()+"/export", nil, testutil.DefaultTestToken())
	assertError(t, w, http.StatusNotFound, 40401, "NotFound")
}

func TestMalformedPathIDs(t *testing.T) {
	env := setupPOTest(t)
	id := createPO(t, env, "AcmeValves")
	token := testutil.DefaultTestToken()

	cases := []struct {
		method, path, message string
	}{
		{"GET", ordersPath + "/not-a-uuid", "Invalid PO ID"},
		{"PATCH", ordersPath + "/not-a-uuid", "Invalid PO ID"},
		{"POST", ordersPath + "/123/lines", "Invalid PO ID"},
		{"POST", ordersPath + "/123/submit", "Invalid PO ID"},
		{"POST", ordersPath + "/123/status", "Invalid PO ID"},
		{"PUT", ordersPath + "/123/history/Draft/note", "Invalid PO ID"},
		{"GET", ordersPath + "/missing/export", "Invalid PO ID"},
		{"PATCH", ordersPath + "/" + id + "/lines/abc", "Invalid line ID"},
		{"DELETE", ordersPath + "/" + id + "/lines/abc", "Invalid line ID"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			w := testutil.DoRequest(env.Router, tc.method, tc.path, map[string]interface{}{"quantity": 1}, token)
			assertError(t, w, http.StatusBadRequest, 40001, "ValidationError")
			assert.Equal(t, tc.message, testutil.ParseResponse(w)["message"])
		})
	}

	// 格式正确但不存在仍是 404
	w := testutil.DoRequest(env.Router, "DELETE", ordersPath+"/"+id+"/lines/"+uuid.New().String(), nil, token)
	assertError(t, w, http.StatusNotFound, 40401, "NotFound")
}

func TestCatalogHandlers(t *testing.T) {
	env := setupPOTest(t)

	w := testutil.DoRequest(env.Router, "GET", APIPrefix+"/catalog/items/X2", nil, testutil.DefaultTestToken())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := dataOf(t, w)
	assert.Equal(t, "AcmeValves", data["supplier"])
	price, err := decimal.NewFromString(data["unit_price"].(string))
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("35.50")))

	w = testutil.DoRequest(env.Router, "GET", APIPrefix+"/catalog/items/nope", nil, testutil.DefaultTestToken())
	assertError(t, w, http.StatusNotFound, 40401, "NotFound")
}

func catalogUpload(t *testing.T, env *testutil.TestEnv, token string) *httptest.ResponseRecorder {
	t.Helper()
	wb := excelize.NewFile()
	rows := [][]interface{}{
		{"id", "name", "supplier", "price_usd"},
		{"Z-1", "Ball valve", "GammaFlow", "42.00"},
	}
	for i, row := range rows {
		cell := fmt.Sprintf("A%d", i+1)
		require.NoError(t, wb.SetSheetRow("Sheet1", cell, &row))
	}
	content, err := wb.WriteToBuffer()
	require.NoError(t, err)
	wb.Close()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", "catalog.xlsx")
	require.NoError(t, err)
	_, err = part.Write(content.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", APIPrefix+"/catalog/import", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)
	return w
}

func TestCatalogImportHandler(t *testing.T) {
	env := setupPOTest(t)

	w := catalogUpload(t, env, testutil.BuyerTestToken())
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = catalogUpload(t, env, testutil.DefaultTestToken())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), dataOf(t, w)["imported"])

	w = testutil.DoRequest(env.Router, "GET", APIPrefix+"/catalog/items/Z-1", nil, testutil.DefaultTestToken())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "GammaFlow", dataOf(t, w)["supplier"])

	// 未上传文件
	w = testutil.DoRequest(env.Router, "POST", APIPrefix+"/catalog/import", nil, testutil.DefaultTestToken())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
