package testutils

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockMailService struct {
	mock.Mock
}

func (m *MockMailService) SendTemplate(ctx context.Context, templateName string, to []string, subject string, data map[string]any) error {
	args := m.Called(ctx, templateName, to, subject, data)
	return args.Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, principalID, code string, expiresAt time.Time) error {
	args := m.Called(ctx, principalID, code, expiresAt)
	return args.Error(0)
}
