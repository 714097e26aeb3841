package orders

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ariefcatur/sweet-shop/internal/apperr"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

// decimalArg matches a decimal.Decimal argument by numeric value.
type decimalArg struct{ want decimal.Decimal }

func (d decimalArg) Match(v any) bool {
	got, ok := v.(decimal.Decimal)
	return ok && got.Equal(d.want)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

const orderID = "5b0f0e9e-3f43-4c1a-9d52-2f8f1f7a6c11"

var (
	orderCols = []string{"id", "external_id", "user_id", "total_price", "created_at"}
	itemCols  = []string{"id", "order_id", "sweet_id", "quantity", "unit_price"}
)

type LedgerTestSuite struct {
	suite.Suite
	mock   pgxmock.PgxPoolIface
	ledger *Ledger
	ctx    context.Context
	now    time.Time
}

func (s *LedgerTestSuite) SetupTest() {
	mock, err := pgxmock.NewPool()
	s.Require().NoError(err)
	s.mock = mock
	s.ledger = NewLedger(mock)
	s.ctx = context.Background()
	s.now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *LedgerTestSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
	s.mock.Close()
}

func TestLedgerTestSuite(t *testing.T) {
	suite.Run(t, new(LedgerTestSuite))
}

func (s *LedgerTestSuite) TestRecordOrder_ExactDecimalTotal() {
	d := Draft{UserID: 3, Lines: []Line{
		{SweetID: 1, Quantity: 3, UnitPrice: dec("0.10")},
		{SweetID: 2, Quantity: 1, UnitPrice: dec("0.20")},
	}}

	s.mock.ExpectQuery(`INSERT INTO orders\(id, external_id, user_id, total_price\)`).
		WithArgs(pgxmock.AnyArg(), (*string)(nil), int64(3), decimalArg{dec("0.50")}).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(s.now))
	s.mock.ExpectQuery(`INSERT INTO order_items\(order_id, sweet_id, quantity, unit_price\)`).
		WithArgs(pgxmock.AnyArg(), int64(1), 3, decimalArg{dec("0.10")}).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(100)))
	s.mock.ExpectQuery(`INSERT INTO order_items`).
		WithArgs(pgxmock.AnyArg(), int64(2), 1, decimalArg{dec("0.20")}).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(101)))

	o, err := s.ledger.RecordOrder(s.ctx, s.mock, d)
	s.Require().NoError(err)
	s.Equal("0.5", o.TotalPrice.String())
	s.Len(o.Items, 2)
	s.Nil(o.ExternalID)
	s.Equal(s.now, o.CreatedAt)

	sum := decimal.Zero
	for _, it := range o.Items {
		s.Equal(o.ID, it.OrderID)
		sum = sum.Add(it.Subtotal())
	}
	s.True(sum.Equal(o.TotalPrice))
}

func (s *LedgerTestSuite) TestRecordOrder_ConcreteScenario() {
	d := Draft{UserID: 1, ExternalID: "k-1", Lines: []Line{{SweetID: 9, Quantity: 3, UnitPrice: dec("100.00")}}}
	ext := "k-1"

	s.mock.ExpectQuery(`INSERT INTO orders`).
		WithArgs(pgxmock.AnyArg(), &ext, int64(1), decimalArg{dec("300")}).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(s.now))
	s.mock.ExpectQuery(`INSERT INTO order_items`).
		WithArgs(pgxmock.AnyArg(), int64(9), 3, decimalArg{dec("100")}).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))

	o, err := s.ledger.RecordOrder(s.ctx, s.mock, d)
	s.Require().NoError(err)
	s.True(o.TotalPrice.Equal(dec("300")))
	s.Equal("k-1", *o.ExternalID)
}

func (s *LedgerTestSuite) TestRecordOrder_RejectsEmptyAndBadLines() {
	_, err := s.ledger.RecordOrder(s.ctx, s.mock, Draft{UserID: 1})
	s.ErrorIs(err, apperr.ErrEmptyOrder)

	_, err = s.ledger.RecordOrder(s.ctx, s.mock, Draft{UserID: 1, Lines: []Line{{SweetID: 1, Quantity: 0, UnitPrice: dec("1")}}})
	s.ErrorIs(err, apperr.ErrInvalidQuantity)

	_, err = s.ledger.RecordOrder(s.ctx, s.mock, Draft{UserID: 1, Lines: []Line{{SweetID: 1, Quantity: 1, UnitPrice: dec("-1")}}})
	s.ErrorIs(err, apperr.ErrInvalidInput)
}

func (s *LedgerTestSuite) TestRecordOrder_RejectsValuesBeyondColumnRange() {
	// 99999999.99 x 101 does not fit NUMERIC(12,2)
	big := Draft{UserID: 1, Lines: []Line{{SweetID: 1, Quantity: 101, UnitPrice: dec("99999999.99")}}}
	_, err := s.ledger.RecordOrder(s.ctx, s.mock, big)
	s.ErrorIs(err, apperr.ErrInvalidInput)

	long := Draft{UserID: 1, ExternalID: strings.Repeat("k", 129), Lines: []Line{{SweetID: 1, Quantity: 1, UnitPrice: dec("1")}}}
	_, err = s.ledger.RecordOrder(s.ctx, s.mock, long)
	s.ErrorIs(err, apperr.ErrInvalidInput)
}

func (s *LedgerTestSuite) TestRecordOrder_ColumnOverflowIsInvalidInput() {
	d := Draft{UserID: 1, Lines: []Line{{SweetID: 1, Quantity: 1, UnitPrice: dec("1")}}}

	s.mock.ExpectQuery(`INSERT INTO orders`).
		WithArgs(pgxmock.AnyArg(), (*string)(nil), int64(1), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "22003"})

	_, err := s.ledger.RecordOrder(s.ctx, s.mock, d)
	s.ErrorIs(err, apperr.ErrInvalidInput)
	s.NotErrorIs(err, apperr.ErrStorageFailure)
}

func (s *LedgerTestSuite) TestRecordOrder_DuplicateExternalID() {
	d := Draft{UserID: 1, ExternalID: "dup", Lines: []Line{{SweetID: 1, Quantity: 1, UnitPrice: dec("1")}}}

	s.mock.ExpectQuery(`INSERT INTO orders`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), int64(1), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := s.ledger.RecordOrder(s.ctx, s.mock, d)
	s.ErrorIs(err, apperr.ErrDuplicate)
}

func (s *LedgerTestSuite) expectOrderRead() {
	s.mock.ExpectQuery(`FROM orders WHERE id=\$1`).
		WithArgs(orderID).
		WillReturnRows(pgxmock.NewRows(orderCols).AddRow(orderID, nil, int64(1), dec("300.00"), s.now))
	s.mock.ExpectQuery(`FROM order_items WHERE order_id = ANY\(\$1\)`).
		WithArgs([]string{orderID}).
		WillReturnRows(pgxmock.NewRows(itemCols).AddRow(int64(1), orderID, int64(9), 3, dec("100.00")))
}

func (s *LedgerTestSuite) TestGetOrder_ReadsAreIdempotent() {
	s.expectOrderRead()
	s.expectOrderRead()

	first, err := s.ledger.GetOrder(s.ctx, orderID)
	s.Require().NoError(err)
	second, err := s.ledger.GetOrder(s.ctx, orderID)
	s.Require().NoError(err)

	s.True(first.TotalPrice.Equal(second.TotalPrice))
	s.Equal(first.Items, second.Items)
	s.Len(first.Items, 1)
}

func (s *LedgerTestSuite) TestGetOrder_NotFound() {
	_, err := s.ledger.GetOrder(s.ctx, "not-a-uuid")
	s.ErrorIs(err, apperr.ErrNotFound)

	s.mock.ExpectQuery(`FROM orders WHERE id=\$1`).
		WithArgs(orderID).
		WillReturnRows(pgxmock.NewRows(orderCols))
	_, err = s.ledger.GetOrder(s.ctx, orderID)
	s.ErrorIs(err, apperr.ErrNotFound)
}

func (s *LedgerTestSuite) TestListByUser() {
	other := "0d7c3c56-6c59-4a7e-bc4f-0a8e1f3c2b10"
	s.mock.ExpectQuery(`FROM orders WHERE user_id=\$1`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows(orderCols).
			AddRow(orderID, nil, int64(1), dec("300.00"), s.now).
			AddRow(other, nil, int64(1), dec("2.00"), s.now))
	s.mock.ExpectQuery(`FROM order_items`).
		WithArgs([]string{orderID, other}).
		WillReturnRows(pgxmock.NewRows(itemCols).AddRow(int64(1), orderID, int64(9), 3, dec("100.00")))

	out, err := s.ledger.ListByUser(s.ctx, 1)
	s.Require().NoError(err)
	s.Len(out, 2)
	s.Len(out[0].Items, 1)
	s.NotNil(out[1].Items)
	s.Empty(out[1].Items)
}

func (s *LedgerTestSuite) TestListAll_Empty() {
	s.mock.ExpectQuery(`FROM orders ORDER BY created_at DESC`).
		WillReturnRows(pgxmock.NewRows(orderCols))

	out, err := s.ledger.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Empty(out)
}

func TestDraftTotal(t *testing.T) {
	d := Draft{Lines: []Line{
		{Quantity: 3, UnitPrice: dec("0.10")},
		{Quantity: 7, UnitPrice: dec("19.99")},
	}}
	assert.Equal(t, "140.23", d.Total().StringFixed(2))
}
