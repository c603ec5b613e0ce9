package handler

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"

	"github.com/edvin/messaging/internal/broker"
	"github.com/edvin/messaging/internal/model"
)

// handlerMockDB implements core.DB for handler tests.
type handlerMockDB struct {
	mock.Mock
}

func (m *handlerMockDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *handlerMockDB) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Rows), args.Error(1)
}

func (m *handlerMockDB) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// handlerMockRow implements pgx.Row for handler tests.
type handlerMockRow struct {
	scanFunc func(dest ...any) error
}

func (m *handlerMockRow) Scan(dest ...any) error {
	return m.scanFunc(dest...)
}

// ---------- Mock broker ----------

type mockDialer struct {
	mock.Mock
}

func (m *mockDialer) Dial(ctx context.Context, username, password string) (broker.Session, error) {
	args := m.Called(ctx, username, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(broker.Session), args.Error(1)
}

type mockSession struct {
	mock.Mock
}

func (m *mockSession) DeclareQueue(name string) error {
	return m.Called(name).Error(0)
}

func (m *mockSession) Get(queue string) (*model.Message, bool, error) {
	args := m.Called(queue)
	var msg *model.Message
	if args.Get(0) != nil {
		msg = args.Get(0).(*model.Message)
	}
	return msg, args.Bool(1), args.Error(2)
}

func (m *mockSession) Publish(ctx context.Context, exchange, routingKey string, pub broker.Publishing) error {
	return m.Called(ctx, exchange, routingKey, pub).Error(0)
}

func (m *mockSession) Consume(queue, tag string) (<-chan model.Message, error) {
	args := m.Called(queue, tag)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(chan model.Message), args.Error(1)
}

func (m *mockSession) Cancel(tag string) error {
	return m.Called(tag).Error(0)
}

func (m *mockSession) Close() error {
	return m.Called().Error(0)
}
