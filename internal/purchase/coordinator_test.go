package purchase

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/sweet-shop/internal/apperr"
	"github.com/ariefcatur/sweet-shop/internal/catalog"
	"github.com/ariefcatur/sweet-shop/internal/inventory"
	"github.com/ariefcatur/sweet-shop/internal/metrics"
	"github.com/ariefcatur/sweet-shop/internal/orders"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type decimalArg struct{ want decimal.Decimal }

func (d decimalArg) Match(v any) bool {
	got, ok := v.(decimal.Decimal)
	return ok && got.Equal(d.want)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type published struct {
	topic string
	key   []byte
	env   orders.Envelope
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakePublisher) Publish(topic string, key, value []byte, _ ...kafkago.Header) {
	var env orders.Envelope
	_ = json.Unmarshal(value, &env)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, key: key, env: env})
}

var (
	sweetCols = []string{"id", "name", "description", "price", "quantity", "category", "created_by", "created_at", "updated_at"}
	orderCols = []string{"id", "external_id", "user_id", "total_price", "created_at"}
	itemCols  = []string{"id", "order_id", "sweet_id", "quantity", "unit_price"}
)

const existingOrderID = "7e4f1c2a-0b8d-4e55-9a63-3c1d2b4a5f60"

type CoordinatorTestSuite struct {
	suite.Suite
	mock    pgxmock.PgxPoolIface
	coord   *Coordinator
	pub     *fakePublisher
	metrics *metrics.Shop
	ctx     context.Context
	now     time.Time
	user    Caller
	admin   Caller
}

func (s *CoordinatorTestSuite) SetupTest() {
	mock, err := pgxmock.NewPool()
	s.Require().NoError(err)
	s.mock = mock
	s.pub = &fakePublisher{}
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.coord = New(mock, catalog.NewStore(mock), inventory.NewAdjuster(), orders.NewLedger(mock), zap.NewNop(),
		WithPublisher(s.pub),
		WithMetrics(s.metrics),
		WithServiceName("sweet-shop-test"),
		WithRetry(RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}),
	)
	s.ctx = context.Background()
	s.now = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	s.user = Caller{UserID: 1}
	s.admin = Caller{UserID: 2, IsAdmin: true}
}

func (s *CoordinatorTestSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
	s.mock.Close()
}

func TestCoordinatorTestSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorTestSuite))
}

func (s *CoordinatorTestSuite) expectLock(id int64, price string, qty int) {
	s.mock.ExpectQuery(`FROM sweets WHERE id=\$1 AND deleted_at IS NULL FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(sweetCols).AddRow(id, "Ladoo", "", dec(price), qty, "traditional", nil, s.now, s.now))
}

func (s *CoordinatorTestSuite) expectReserve(id int64, qty, left int) {
	s.mock.ExpectQuery(`UPDATE sweets SET quantity = quantity - \$2`).
		WithArgs(id, qty).
		WillReturnRows(pgxmock.NewRows([]string{"quantity"}).AddRow(left))
}

func (s *CoordinatorTestSuite) expectInsertOrder(userID int64, total string) {
	s.mock.ExpectQuery(`INSERT INTO orders`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), userID, decimalArg{dec(total)}).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(s.now))
}

func (s *CoordinatorTestSuite) expectInsertItem(sweetID int64, qty int, price string, itemID int64) {
	s.mock.ExpectQuery(`INSERT INTO order_items`).
		WithArgs(pgxmock.AnyArg(), sweetID, qty, decimalArg{dec(price)}).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(itemID))
}

func intp(n int) *int { return &n }

func (s *CoordinatorTestSuite) TestConcreteScenario() {
	// price 100, stock 10: buy 3
	s.mock.ExpectBegin()
	s.expectLock(1, "100.00", 10)
	s.expectReserve(1, 3, 7)
	s.expectInsertOrder(1, "300")
	s.expectInsertItem(1, 3, "100", 1)
	s.mock.ExpectCommit()

	r, err := s.coord.PurchaseOne(s.ctx, s.user, 1, intp(3))
	s.Require().NoError(err)
	s.Equal(7, r.RemainingQuantity)
	s.True(r.Order.TotalPrice.Equal(dec("300")))
	s.Len(r.Order.Items, 1)

	// then buy 10 with only 7 left: rejected, nothing written
	s.mock.ExpectBegin()
	s.expectLock(1, "100.00", 7)
	s.mock.ExpectRollback()

	_, err = s.coord.PurchaseOne(s.ctx, s.user, 1, intp(10))
	s.Require().ErrorIs(err, apperr.ErrInsufficientStock)
	e, _ := apperr.As(err)
	s.Equal(7, e.Available)
	s.Equal(int64(1), e.SweetID)

	s.Require().Len(s.pub.msgs, 1)
	msg := s.pub.msgs[0]
	s.Equal(orders.TopicOrderPlaced, msg.topic)
	s.Equal(orders.EventOrderPlaced, msg.env.EventType)
	s.Equal("sweet-shop-test", msg.env.Producer)
	s.Equal(r.Order.ID, msg.env.CorrelationID)

	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Purchases.WithLabelValues("single", "ok")))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Purchases.WithLabelValues("single", "insufficient_stock")))
	s.Equal(float64(3), testutil.ToFloat64(s.metrics.UnitsSold))
}

func (s *CoordinatorTestSuite) TestPurchaseOne_DefaultsToOne() {
	s.mock.ExpectBegin()
	s.expectLock(4, "2.50", 1)
	s.expectReserve(4, 1, 0)
	s.expectInsertOrder(1, "2.5")
	s.expectInsertItem(4, 1, "2.50", 1)
	s.mock.ExpectCommit()

	r, err := s.coord.PurchaseOne(s.ctx, s.user, 4, nil)
	s.Require().NoError(err)
	s.Zero(r.RemainingQuantity)
}

func (s *CoordinatorTestSuite) TestPurchase_MultiItemLocksInIDOrder() {
	s.mock.ExpectBegin()
	s.expectLock(2, "1.00", 5)
	s.expectLock(9, "0.10", 20)
	s.expectReserve(9, 3, 17)
	s.expectReserve(2, 1, 4)
	s.expectInsertOrder(1, "1.30")
	s.expectInsertItem(9, 3, "0.10", 1)
	s.expectInsertItem(2, 1, "1.00", 2)
	s.mock.ExpectCommit()

	r, err := s.coord.Purchase(s.ctx, s.user, []LineItem{{SweetID: 9, Quantity: 3}, {SweetID: 2, Quantity: 1}}, Options{})
	s.Require().NoError(err)
	s.Equal(map[int64]int{9: 17, 2: 4}, r.Remaining)
	s.Equal("1.30", r.Order.TotalPrice.StringFixed(2))
	s.Equal(int64(9), r.Order.Items[0].SweetID)
}

func (s *CoordinatorTestSuite) TestPurchase_InsufficientSecondItemChangesNothing() {
	// [(A,2), (B,huge)]: validation rejects before any decrement
	s.mock.ExpectBegin()
	s.expectLock(1, "1.00", 10)
	s.expectLock(2, "1.00", 3)
	s.mock.ExpectRollback()

	_, err := s.coord.Purchase(s.ctx, s.user, []LineItem{{SweetID: 1, Quantity: 2}, {SweetID: 2, Quantity: 1000}}, Options{})
	s.Require().ErrorIs(err, apperr.ErrInsufficientStock)
	e, _ := apperr.As(err)
	s.Equal(int64(2), e.SweetID)
	s.Equal(3, e.Available)
	s.Empty(s.pub.msgs)
}

func (s *CoordinatorTestSuite) TestPurchase_ReserveFailureRollsBackEarlierDecrements() {
	// same sweet twice: each line passes validation on its own, the second
	// reservation runs short and the first decrement is rolled back
	s.mock.ExpectBegin()
	s.expectLock(1, "1.00", 10)
	s.expectReserve(1, 2, 8)
	s.mock.ExpectQuery(`UPDATE sweets SET quantity = quantity - \$2`).
		WithArgs(int64(1), 9).
		WillReturnRows(pgxmock.NewRows([]string{"quantity"}))
	s.mock.ExpectQuery(`SELECT quantity FROM sweets`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"quantity"}).AddRow(8))
	s.mock.ExpectRollback()

	_, err := s.coord.Purchase(s.ctx, s.user, []LineItem{{SweetID: 1, Quantity: 2}, {SweetID: 1, Quantity: 9}}, Options{})
	s.Require().ErrorIs(err, apperr.ErrInsufficientStock)
	e, _ := apperr.As(err)
	s.Equal(8, e.Available)
}

func (s *CoordinatorTestSuite) TestPurchase_RecordingFailureRollsBack() {
	s.mock.ExpectBegin()
	s.expectLock(1, "1.00", 10)
	s.expectReserve(1, 1, 9)
	s.mock.ExpectQuery(`INSERT INTO orders`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), int64(1), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "53300", Message: "too many connections"})
	s.mock.ExpectRollback()

	_, err := s.coord.Purchase(s.ctx, s.user, []LineItem{{SweetID: 1, Quantity: 1}}, Options{})
	s.ErrorIs(err, apperr.ErrStorageFailure)
	s.Empty(s.pub.msgs)
}

func (s *CoordinatorTestSuite) TestPurchase_RejectsBeforeTouchingStorage() {
	_, err := s.coord.Purchase(s.ctx, s.user, nil, Options{})
	s.ErrorIs(err, apperr.ErrEmptyOrder)

	_, err = s.coord.Purchase(s.ctx, s.user, []LineItem{{SweetID: 1, Quantity: 1}, {SweetID: 2, Quantity: -1}}, Options{})
	s.ErrorIs(err, apperr.ErrInvalidQuantity)

	_, err = s.coord.PurchaseOne(s.ctx, s.user, 1, intp(0))
	s.ErrorIs(err, apperr.ErrInvalidQuantity)

	_, err = s.coord.PurchaseOne(s.ctx, Caller{}, 1, nil)
	s.Equal(apperr.KindUnauthenticated, apperr.KindOf(err))

	_, err = s.coord.PurchaseOne(s.ctx, s.user, 1, intp(catalog.MaxQuantity+1))
	s.ErrorIs(err, apperr.ErrInvalidQuantity)

	_, err = s.coord.Purchase(s.ctx, s.user, []LineItem{{SweetID: 1, Quantity: 1}}, Options{ExternalID: strings.Repeat("x", MaxExternalIDLen+1)})
	s.ErrorIs(err, apperr.ErrInvalidInput)
}

func (s *CoordinatorTestSuite) TestPurchase_UnknownSweet() {
	s.mock.ExpectBegin()
	s.mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(int64(404)).
		WillReturnRows(pgxmock.NewRows(sweetCols))
	s.mock.ExpectRollback()

	_, err := s.coord.PurchaseOne(s.ctx, s.user, 404, nil)
	s.ErrorIs(err, apperr.ErrNotFound)
}

func (s *CoordinatorTestSuite) TestPurchase_RetriesSerializationFailure() {
	s.mock.ExpectBegin()
	s.mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(int64(1)).
		WillReturnError(&pgconn.PgError{Code: "40001"})
	s.mock.ExpectRollback()

	s.mock.ExpectBegin()
	s.expectLock(1, "5.00", 3)
	s.expectReserve(1, 2, 1)
	s.expectInsertOrder(1, "10")
	s.expectInsertItem(1, 2, "5", 1)
	s.mock.ExpectCommit()

	r, err := s.coord.PurchaseOne(s.ctx, s.user, 1, intp(2))
	s.Require().NoError(err)
	s.Equal(1, r.RemainingQuantity)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Retries))
}

func (s *CoordinatorTestSuite) TestPurchase_ConflictSurfacesAfterRetries() {
	for i := 0; i < 3; i++ {
		s.mock.ExpectBegin()
		s.mock.ExpectQuery(`FOR UPDATE`).
			WithArgs(int64(1)).
			WillReturnError(&pgconn.PgError{Code: "40P01"})
		s.mock.ExpectRollback()
	}

	_, err := s.coord.PurchaseOne(s.ctx, s.user, 1, nil)
	s.ErrorIs(err, apperr.ErrConcurrencyConflict)
}

func (s *CoordinatorTestSuite) expectExistingOrder(key string, userID int64) {
	s.mock.ExpectQuery(`FROM orders WHERE external_id=\$1`).
		WithArgs(key).
		WillReturnRows(pgxmock.NewRows(orderCols).AddRow(existingOrderID, &key, userID, dec("6.00"), s.now))
	s.mock.ExpectQuery(`FROM order_items WHERE order_id = ANY\(\$1\)`).
		WithArgs([]string{existingOrderID}).
		WillReturnRows(pgxmock.NewRows(itemCols).AddRow(int64(1), existingOrderID, int64(1), 2, dec("3.00")))
}

func (s *CoordinatorTestSuite) TestPurchase_IdempotentReplay() {
	s.expectExistingOrder("key-1", 1)
	s.mock.ExpectQuery(`FROM sweets WHERE id=\$1 AND deleted_at IS NULL`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows(sweetCols).AddRow(int64(1), "Ladoo", "", dec("3.00"), 8, "traditional", nil, s.now, s.now))

	r, err := s.coord.Purchase(s.ctx, s.user, []LineItem{{SweetID: 1, Quantity: 2}}, Options{ExternalID: "key-1"})
	s.Require().NoError(err)
	s.True(r.Replayed)
	s.Equal(existingOrderID, r.Order.ID)
	s.Equal(8, r.Remaining[1])
	s.Empty(s.pub.msgs)
}

func (s *CoordinatorTestSuite) TestPurchase_IdempotencyKeyOfAnotherUser() {
	s.expectExistingOrder("key-2", 77)

	_, err := s.coord.Purchase(s.ctx, s.user, []LineItem{{SweetID: 1, Quantity: 2}}, Options{ExternalID: "key-2"})
	s.ErrorIs(err, apperr.ErrDuplicate)
}

func (s *CoordinatorTestSuite) TestPurchase_ConcurrentSameKeyResolvesToWinner() {
	s.mock.ExpectQuery(`FROM orders WHERE external_id=\$1`).
		WithArgs("key-3").
		WillReturnRows(pgxmock.NewRows(orderCols))
	s.mock.ExpectBegin()
	s.expectLock(1, "3.00", 10)
	s.expectReserve(1, 2, 6)
	s.mock.ExpectQuery(`INSERT INTO orders`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), int64(1), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	s.mock.ExpectRollback()
	s.expectExistingOrder("key-3", 1)
	s.mock.ExpectQuery(`FROM sweets WHERE id=\$1 AND deleted_at IS NULL`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows(sweetCols).AddRow(int64(1), "Ladoo", "", dec("3.00"), 8, "traditional", nil, s.now, s.now))

	r, err := s.coord.Purchase(s.ctx, s.user, []LineItem{{SweetID: 1, Quantity: 2}}, Options{ExternalID: "key-3"})
	s.Require().NoError(err)
	s.True(r.Replayed)
	s.Equal(existingOrderID, r.Order.ID)
}

func (s *CoordinatorTestSuite) TestRestock_AdminOnly() {
	_, err := s.coord.Restock(s.ctx, s.user, 1, 10)
	s.ErrorIs(err, apperr.ErrForbidden)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Restocks.WithLabelValues("forbidden")))
}

func (s *CoordinatorTestSuite) TestRestock_Success() {
	s.mock.ExpectQuery(`UPDATE sweets SET quantity = quantity \+ \$2`).
		WithArgs(int64(1), 10).
		WillReturnRows(pgxmock.NewRows([]string{"quantity"}).AddRow(15))

	n, err := s.coord.Restock(s.ctx, s.admin, 1, 10)
	s.Require().NoError(err)
	s.Equal(15, n)

	s.Require().Len(s.pub.msgs, 1)
	s.Equal(orders.TopicSweetRestocked, s.pub.msgs[0].topic)
	s.Equal([]byte("1"), s.pub.msgs[0].key)

	var p orders.SweetRestockedPayload
	s.Require().NoError(json.Unmarshal(s.pub.msgs[0].env.Payload, &p))
	s.Equal(orders.SweetRestockedPayload{SweetID: 1, Added: 10, Quantity: 15, By: 2}, p)
}

func (s *CoordinatorTestSuite) TestRestock_InvalidQuantity() {
	_, err := s.coord.Restock(s.ctx, s.admin, 1, -5)
	s.ErrorIs(err, apperr.ErrInvalidQuantity)

	_, err = s.coord.Restock(s.ctx, s.admin, 1, 3_000_000_000)
	s.ErrorIs(err, apperr.ErrInvalidQuantity)
	s.NotErrorIs(err, apperr.ErrStorageFailure)
	s.Empty(s.pub.msgs)
}

func (s *CoordinatorTestSuite) TestRestockThenPurchaseIsIdentity() {
	s.mock.ExpectQuery(`quantity = quantity \+ \$2`).
		WithArgs(int64(1), 4).
		WillReturnRows(pgxmock.NewRows([]string{"quantity"}).AddRow(9))
	s.mock.ExpectBegin()
	s.expectLock(1, "1.00", 9)
	s.expectReserve(1, 4, 5)
	s.expectInsertOrder(1, "4")
	s.expectInsertItem(1, 4, "1", 1)
	s.mock.ExpectCommit()

	n, err := s.coord.Restock(s.ctx, s.admin, 1, 4)
	s.Require().NoError(err)
	s.Equal(9, n)
	r, err := s.coord.PurchaseOne(s.ctx, s.user, 1, intp(4))
	s.Require().NoError(err)
	s.Equal(5, r.RemainingQuantity)
}
