package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/storefront/pkg/discovery"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/store"
	"github.com/example/storefront/pkg/userclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCreateOrderWritesAllRows(t *testing.T) {
	f := newProductFixture(t)
	h := f.server.Handler()
	cake := f.createProduct(t, "Cake", "19.99", 5, "dessert")
	tea := f.createProduct(t, "Tea", "12.50", 10, "drink")

	w := doJSON(t, h, http.MethodPost, "/orders/", aliceHeader, orderBody(item(cake.ID, 2, "19.99"), item(tea.ID, 2, "12.50")))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := decodeBody[orderResponse](t, w)

	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, uint(2), order.CustomerID)
	assert.Equal(t, "64.97", order.TotalAmount)
	assert.Equal(t, entityID(order.ID), order.OrderNumber)
	assert.Equal(t, order.OrderDate.Add(30*time.Minute), order.EstimatedDelivery)
	assert.Equal(t, "1 Silom Road", order.ShippingAddress)
	require.NotNil(t, order.ShippingMethod)
	assert.Equal(t, "express", *order.ShippingMethod)
	require.NotNil(t, order.PaymentMethod)
	assert.Equal(t, "credit_card", *order.PaymentMethod)
	require.NotNil(t, order.Postcode)
	assert.Equal(t, "10110", *order.Postcode)
	require.Len(t, order.Items, 2)
	assert.Equal(t, "Cake", order.Items[0].Product.Name)
	assert.Equal(t, "12.50", order.Items[1].UnitPrice)

	assert.EqualValues(t, 1, countRows(t, f.db, &models.Order{}))
	assert.EqualValues(t, 2, countRows(t, f.db, &models.OrderLine{}))

	var payments []models.Payment
	require.NoError(t, f.db.Find(&payments).Error)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentStatusPending, payments[0].Status)

	var shipments []models.Shipment
	require.NoError(t, f.db.Find(&shipments).Error)
	require.Len(t, shipments, 1)
	assert.Equal(t, models.ShipmentStatusPending, shipments[0].Status)
	assert.Equal(t, map[string]any{"address": "1 Silom Road"}, shipments[0].Address)

	w = doJSON(t, h, http.MethodGet, "/products/"+entityID(cake.ID)+"/", "", nil)
	assert.Equal(t, 3, decodeBody[productResponse](t, w).Stock)
}

func TestCreateOrderAsGuest(t *testing.T) {
	f := newProductFixture(t)
	cake := f.createProduct(t, "Cake", "19.99", 5, "dessert")

	w := doJSON(t, f.server.Handler(), http.MethodPost, "/orders/", "", orderBody(item(cake.ID, 1, "19.99")))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, models.GuestCustomerID, decodeBody[orderResponse](t, w).CustomerID)
}

func TestCreateOrderRejectsBadItemsAtomically(t *testing.T) {
	f := newProductFixture(t)
	h := f.server.Handler()
	cake := f.createProduct(t, "Cake", "19.99", 5, "dessert")

	cases := map[string]struct {
		body   map[string]any
		status int
		field  string
	}{
		"missing product_id": {
			body:   orderBody(item(cake.ID, 1, "19.99"), map[string]any{"quantity": 1, "price": "1.00"}),
			status: http.StatusBadRequest,
			field:  "items[1].product_id",
		},
		"missing quantity": {
			body:   orderBody(item(cake.ID, 1, "19.99"), map[string]any{"product_id": cake.ID, "price": "1.00"}),
			status: http.StatusBadRequest,
			field:  "items[1].quantity",
		},
		"no items": {
			body:   orderBody(),
			status: http.StatusBadRequest,
			field:  "items",
		},
		"unknown product": {
			body:   orderBody(item(cake.ID, 1, "19.99"), item(999, 1, "1.00")),
			status: http.StatusBadRequest,
			field:  "items[1].product_id",
		},
		"negative price": {
			body:   orderBody(item(cake.ID, 1, "-19.99")),
			status: http.StatusBadRequest,
			field:  "items[0].price",
		},
		"insufficient stock": {
			body:   orderBody(item(cake.ID, 3, "19.99"), item(cake.ID, 3, "19.99")),
			status: http.StatusConflict,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			w := doJSON(t, h, http.MethodPost, "/orders/", aliceHeader, tc.body)
			require.Equal(t, tc.status, w.Code, w.Body.String())
			if tc.field != "" {
				assert.Contains(t, decodeBody[map[string]map[string][]string](t, w)["errors"], tc.field)
			}

			assert.Zero(t, countRows(t, f.db, &models.Order{}))
			assert.Zero(t, countRows(t, f.db, &models.OrderLine{}))
			assert.Zero(t, countRows(t, f.db, &models.Payment{}))
			assert.Zero(t, countRows(t, f.db, &models.Shipment{}))
		})
	}

	w := doJSON(t, h, http.MethodGet, "/products/"+entityID(cake.ID)+"/", "", nil)
	assert.Equal(t, 5, decodeBody[productResponse](t, w).Stock)
}

func TestGetOrderEnrichment(t *testing.T) {
	f := newProductFixture(t)
	h := f.server.Handler()
	cake := f.createProduct(t, "Cake", "19.99", 9, "dessert")

	place := func(header string) uint {
		w := doJSON(t, h, http.MethodPost, "/orders/", header, orderBody(item(cake.ID, 1, "19.99")))
		require.Equal(t, http.StatusCreated, w.Code)
		return decodeBody[orderResponse](t, w).ID
	}
	aliceOrder := place(aliceHeader)
	bobOrder := place(bobHeader)
	guestOrder := place("")

	w := doJSON(t, h, http.MethodGet, "/orders/"+entityID(aliceOrder)+"/", aliceHeader, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody[map[string]any](t, w)
	require.NotNil(t, body["customer_info"])
	assert.Equal(t, "alice", body["customer_info"].(map[string]any)["username"])

	// The user service cannot resolve bob: the read still succeeds.
	w = doJSON(t, h, http.MethodGet, "/orders/"+entityID(bobOrder)+"/", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody[map[string]any](t, w)
	assert.Contains(t, body, "customer_info")
	assert.Nil(t, body["customer_info"])
	assert.Equal(t, "pending", body["status"])

	calls := f.customers.calls
	w = doJSON(t, h, http.MethodGet, "/orders/"+entityID(guestOrder)+"/", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decodeBody[map[string]any](t, w)["customer_info"])
	assert.Equal(t, calls, f.customers.calls)

	w = doJSON(t, h, http.MethodGet, "/orders/999/", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListOrdersIsScopedToCaller(t *testing.T) {
	f := newProductFixture(t)
	h := f.server.Handler()
	cake := f.createProduct(t, "Cake", "19.99", 9, "dessert")

	for _, header := range []string{aliceHeader, aliceHeader, bobHeader} {
		w := doJSON(t, h, http.MethodPost, "/orders/", header, orderBody(item(cake.ID, 1, "19.99")))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	type page struct {
		Count   int64           `json:"count"`
		Results []orderResponse `json:"results"`
	}

	w := doJSON(t, h, http.MethodGet, "/orders/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, h, http.MethodGet, "/orders/", aliceHeader, nil)
	require.Equal(t, http.StatusOK, w.Code)
	alice := decodeBody[page](t, w)
	assert.EqualValues(t, 2, alice.Count)
	for _, o := range alice.Results {
		assert.Equal(t, uint(2), o.CustomerID)
	}

	w = doJSON(t, h, http.MethodGet, "/orders/?page=1&page_size=2", adminHeader, nil)
	require.Equal(t, http.StatusOK, w.Code)
	all := decodeBody[page](t, w)
	assert.EqualValues(t, 3, all.Count)
	assert.Len(t, all.Results, 2)
	assert.Greater(t, all.Results[0].ID, all.Results[1].ID)

	w = doJSON(t, h, http.MethodGet, "/orders/?page_size=1000", adminHeader, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateAndDeleteOrder(t *testing.T) {
	f := newProductFixture(t)
	h := f.server.Handler()
	cake := f.createProduct(t, "Cake", "19.99", 9, "dessert")

	w := doJSON(t, h, http.MethodPost, "/orders/", aliceHeader, orderBody(item(cake.ID, 1, "19.99")))
	require.Equal(t, http.StatusCreated, w.Code)
	path := "/orders/" + entityID(decodeBody[orderResponse](t, w).ID) + "/"

	w = doJSON(t, h, http.MethodPatch, path, aliceHeader, map[string]any{"status": "paid"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, h, http.MethodPatch, path, adminHeader, map[string]any{"status": "refunded"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody[map[string]map[string][]string](t, w)["errors"], "status")

	w = doJSON(t, h, http.MethodPatch, path, adminHeader, map[string]any{"status": "paid"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.OrderStatusPaid, decodeBody[orderResponse](t, w).Status)

	w = doJSON(t, h, http.MethodPatch, "/orders/999/", adminHeader, map[string]any{"status": "paid"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, h, http.MethodDelete, path, aliceHeader, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, h, http.MethodDelete, path, adminHeader, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, countRows(t, f.db, &models.OrderLine{}))
	assert.Zero(t, countRows(t, f.db, &models.Payment{}))
	assert.Zero(t, countRows(t, f.db, &models.Shipment{}))

	w = doJSON(t, h, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestServicesEndToEnd runs the product API against a live user API through
// the real HTTP client, so verification and enrichment cross the wire.
func TestServicesEndToEnd(t *testing.T) {
	users := newUserFixture(t)
	userSrv := httptest.NewServer(users.server.Handler())
	t.Cleanup(userSrv.Close)

	adm := users.admin(t)
	alice := users.register(t, "alice", "alice@example.com")
	bob := users.register(t, "bob", "bob@example.com")

	resolver := discovery.NewResolver(nil, "user-service", userSrv.URL, zap.NewNop())
	client := userclient.New(resolver, 2*time.Second, zap.NewNop(), nil)
	db := newTestDB(t)
	products := NewProductServer(store.NewProductStore(db), store.NewOrderStore(db), client, client, nil, zap.NewNop(), nil)
	h := products.Handler()

	productBody := map[string]any{"name": "Cake", "description": "Chocolate", "price": "19.99", "stock": 5, "category": "dessert"}
	w := doJSON(t, h, http.MethodPost, "/products/", bearer(alice.Access), productBody)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, h, http.MethodPost, "/products/", bearer(adm.Access), productBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	cake := decodeBody[productResponse](t, w)

	w = doJSON(t, h, http.MethodPost, "/orders/", bearer(alice.Access), orderBody(item(cake.ID, 1, "19.99")))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := decodeBody[orderResponse](t, w)
	assert.Equal(t, uint(alice.User["id"].(float64)), order.CustomerID)

	path := "/orders/" + entityID(order.ID) + "/"

	w = doJSON(t, h, http.MethodGet, path, bearer(alice.Access), nil)
	require.Equal(t, http.StatusOK, w.Code)
	info, ok := decodeBody[map[string]any](t, w)["customer_info"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice", info["username"])

	// bob may read the order but not alice's profile.
	w = doJSON(t, h, http.MethodGet, path, bearer(bob.Access), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decodeBody[map[string]any](t, w)["customer_info"])

	userSrv.Close()
	w = doJSON(t, h, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, h, http.MethodGet, path, bearer(alice.Access), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

var (
	_ TokenVerifier   = (*userclient.Client)(nil)
	_ CustomerFetcher = (*userclient.Client)(nil)
)
