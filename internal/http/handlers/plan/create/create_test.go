package create

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/escrow-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/escrow-billing/internal/models"
	"github.com/magabrotheeeer/escrow-billing/internal/services/billing"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) CreatePlan(ctx context.Context, merchant solana.PublicKey, params billing.PlanParams) (*models.Plan, error) {
	args := m.Called(ctx, merchant, params)
	if res := args.Get(0); res != nil {
		return res.(*models.Plan), args.Error(1)
	}
	return nil, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestCreateHandler(t *testing.T) {
	merchant := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	planAddr := solana.NewWallet().PublicKey()

	params := billing.PlanParams{
		Name:            "pro",
		Mint:            mint,
		Amount:          1_000_000,
		Interval:        120,
		MaxFailureCount: 1,
	}
	validBody := `{"name":"pro","mint":"` + mint.String() + `","amount":1000000,"interval":120,"max_failure_count":1}`

	tests := []struct {
		name           string
		body           string
		signer         *solana.PublicKey
		setupMock      func(m *MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:   "plan created",
			body:   validBody,
			signer: &merchant,
			setupMock: func(m *MockService) {
				m.On("CreatePlan", mock.Anything, merchant, params).
					Return(&models.Plan{Address: planAddr, Merchant: merchant, Name: "pro", Active: true}, nil)
			},
			expectedStatus: http.StatusCreated,
			expectedBody:   planAddr.String(),
		},
		{
			name:           "no signer",
			body:           validBody,
			setupMock:      func(*MockService) {},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"error":"unauthorized"`,
		},
		{
			name:           "invalid json",
			body:           `{"name":`,
			signer:         &merchant,
			setupMock:      func(*MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"error":"invalid request body"`,
		},
		{
			name:           "name too long",
			body:           `{"name":"` + strings.Repeat("x", 51) + `","mint":"` + mint.String() + `","amount":1,"interval":1}`,
			signer:         &merchant,
			setupMock:      func(*MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   "field Name exceeds 50",
		},
		{
			name:   "duplicate plan",
			body:   validBody,
			signer: &merchant,
			setupMock: func(m *MockService) {
				m.On("CreatePlan", mock.Anything, merchant, params).Return(nil, billing.ErrAlreadyExists)
			},
			expectedStatus: http.StatusConflict,
			expectedBody:   `"error":"record already exists"`,
		},
		{
			name:   "bad cron expression",
			body:   validBody,
			signer: &merchant,
			setupMock: func(m *MockService) {
				m.On("CreatePlan", mock.Anything, merchant, params).Return(nil, billing.ErrInvalidSchedule)
			},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name:   "storage failure",
			body:   validBody,
			signer: &merchant,
			setupMock: func(m *MockService) {
				m.On("CreatePlan", mock.Anything, merchant, params).Return(nil, errors.New("db down"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `"error":"internal error"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setupMock(svc)

			req := httptest.NewRequest(http.MethodPost, "/plans", strings.NewReader(tt.body))
			if tt.signer != nil {
				req = req.WithContext(middlewarectx.WithSigner(req.Context(), *tt.signer))
			}
			rec := httptest.NewRecorder()

			New(newNoopLogger(), svc).ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedBody != "" {
				assert.Contains(t, rec.Body.String(), tt.expectedBody)
			}
			svc.AssertExpectations(t)
		})
	}
}
