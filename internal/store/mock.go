package store

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/anonchat/anonchat/internal/types"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRepository) SaveMessage(ctx context.Context, msg types.Message) (types.Message, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(types.Message), args.Error(1)
}

func (m *MockRepository) ListRecentMessages(ctx context.Context, roomID string, limit int) ([]types.Message, error) {
	args := m.Called(ctx, roomID, limit)
	if msgs, ok := args.Get(0).([]types.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (types.Room, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Room), args.Error(1)
}

func (m *MockRepository) GetRoom(ctx context.Context, roomID string) (types.Room, error) {
	args := m.Called(ctx, roomID)
	return args.Get(0).(types.Room), args.Error(1)
}

func (m *MockRepository) ListRooms(ctx context.Context, limit int) ([]types.Room, error) {
	args := m.Called(ctx, limit)
	if rooms, ok := args.Get(0).([]types.Room); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) CreatePersonalRoom(ctx context.Context, params PersonalRoomParams) (types.Room, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Room), args.Error(1)
}

func (m *MockRepository) AddInvite(ctx context.Context, roomID, code string, oneTime bool) error {
	args := m.Called(ctx, roomID, code, oneTime)
	return args.Error(0)
}

func (m *MockRepository) ConsumeInvite(ctx context.Context, code, userID string) (types.Room, error) {
	args := m.Called(ctx, code, userID)
	return args.Get(0).(types.Room), args.Error(1)
}

func (m *MockRepository) HeartbeatActiveUser(ctx context.Context, roomID string, user types.ActiveUser) ([]types.ActiveUser, error) {
	args := m.Called(ctx, roomID, user)
	if users, ok := args.Get(0).([]types.ActiveUser); ok {
		return users, args.Error(1)
	}
	return nil, args.Error(1)
}
