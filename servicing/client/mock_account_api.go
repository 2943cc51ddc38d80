package client

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockAccountAPI struct {
	mock.Mock
}

func (m *MockAccountAPI) SuspendAccount(ctx context.Context, accountID int64, subtype string) error {
	return m.Called(accountID, subtype).Error(0)
}

func (m *MockAccountAPI) CloseAccount(ctx context.Context, accountID int64) error {
	return m.Called(accountID).Error(0)
}

func (m *MockAccountAPI) DisableCards(ctx context.Context, accountID int64) error {
	return m.Called(accountID).Error(0)
}

func (m *MockAccountAPI) CancelAccount(ctx context.Context, accountID int64, subtype string, refund bool) error {
	return m.Called(accountID, subtype, refund).Error(0)
}
