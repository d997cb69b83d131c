package sms

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/textback/notify-api/pkg/errors"
	"github.com/textback/notify-api/pkg/logger"

	"github.com/textback/notify-api/internal/model"
)

type fakeBindings struct {
	mu       sync.Mutex
	bindings map[uuid.UUID]*model.SMSProviderBinding
}

func newFakeBindings() *fakeBindings {
	return &fakeBindings{bindings: make(map[uuid.UUID]*model.SMSProviderBinding)}
}

func (f *fakeBindings) Get(_ context.Context, customerID uuid.UUID) (*model.SMSProviderBinding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bindings[customerID]
	if !ok {
		return nil, apperrors.NotFound("sms provider binding", nil)
	}
	return b, nil
}

func (f *fakeBindings) Upsert(_ context.Context, b *model.SMSProviderBinding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings[b.CustomerID] = b
	return nil
}

func (f *fakeBindings) Delete(_ context.Context, customerID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bindings, customerID)
	return nil
}

type fakeProvider struct {
	name     string
	sent     []SendRequest
	released int
	mu       sync.Mutex
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Send(_ context.Context, req SendRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, req)
	return "msg-" + p.name, nil
}

func (p *fakeProvider) HandleIncoming(_ context.Context, raw []byte) (*model.InboundSMS, error) {
	return &model.InboundSMS{Body: string(raw)}, nil
}

func (p *fakeProvider) ProvisionNumber(_ context.Context, customerID uuid.UUID) (*model.SMSProviderBinding, error) {
	return &model.SMSProviderBinding{
		CustomerID:  customerID,
		Provider:    p.name,
		PhoneNumber: "+15550000000",
	}, nil
}

func (p *fakeProvider) ReleaseNumber(_ context.Context, _ *model.SMSProviderBinding) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released++
	return nil
}

func (p *fakeProvider) VerifyWebhookSignature(_ *http.Request, _ []byte) error { return nil }

func testLogger() *logger.Logger {
	return logger.NewLogger(nil)
}

func TestSendSMSRoutesToBoundProvider(t *testing.T) {
	bindings := newFakeBindings()
	customerID := uuid.New()
	require.NoError(t, bindings.Upsert(context.Background(), &model.SMSProviderBinding{
		CustomerID:  customerID,
		Provider:    "fonecloud",
		PhoneNumber: "+15551112222",
	}))

	gw := NewGateway(GatewayConfig{DefaultProvider: "twilio"}, bindings, testLogger())
	twilio := &fakeProvider{name: "twilio"}
	fonecloud := &fakeProvider{name: "fonecloud"}
	gw.Register(twilio)
	gw.Register(fonecloud)

	id, err := gw.SendSMS(context.Background(), customerID, "+15553334444", "hello")
	require.NoError(t, err)
	assert.Equal(t, "msg-fonecloud", id)
	require.Len(t, fonecloud.sent, 1)
	assert.Equal(t, "+15551112222", fonecloud.sent[0].From)
	assert.Empty(t, twilio.sent)
}

func TestSendSMSFailsClosedWithoutBinding(t *testing.T) {
	gw := NewGateway(GatewayConfig{DefaultProvider: "twilio"}, newFakeBindings(), testLogger())
	gw.Register(&fakeProvider{name: "twilio"})

	_, err := gw.SendSMS(context.Background(), uuid.New(), "+15553334444", "hello")
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrProviderNotConfigured, appErr.Code)
}

func TestSendSMSFallsBackWhenEnabled(t *testing.T) {
	gw := NewGateway(GatewayConfig{
		DefaultProvider:       "twilio",
		AllowProviderFallback: true,
	}, newFakeBindings(), testLogger())
	twilio := &fakeProvider{name: "twilio"}
	gw.Register(twilio)

	id, err := gw.SendSMS(context.Background(), uuid.New(), "+15553334444", "hello")
	require.NoError(t, err)
	assert.Equal(t, "msg-twilio", id)
	require.Len(t, twilio.sent, 1)
	assert.Empty(t, twilio.sent[0].From, "fallback sends use the provider default number")
}

func TestSendSMSFallsBackOnUnregisteredProvider(t *testing.T) {
	bindings := newFakeBindings()
	customerID := uuid.New()
	require.NoError(t, bindings.Upsert(context.Background(), &model.SMSProviderBinding{
		CustomerID: customerID,
		Provider:   "retired-carrier",
	}))

	gw := NewGateway(GatewayConfig{
		DefaultProvider:       "twilio",
		AllowProviderFallback: true,
	}, bindings, testLogger())
	twilio := &fakeProvider{name: "twilio"}
	gw.Register(twilio)

	_, err := gw.SendSMS(context.Background(), customerID, "+15553334444", "hello")
	require.NoError(t, err)
	assert.Len(t, twilio.sent, 1)
}

func TestProvisionPersistsBinding(t *testing.T) {
	bindings := newFakeBindings()
	gw := NewGateway(GatewayConfig{DefaultProvider: "twilio"}, bindings, testLogger())
	gw.Register(&fakeProvider{name: "twilio"})

	customerID := uuid.New()
	binding, err := gw.ProvisionNumber(context.Background(), customerID, "")
	require.NoError(t, err)
	assert.Equal(t, "+15550000000", binding.PhoneNumber)

	stored, err := bindings.Get(context.Background(), customerID)
	require.NoError(t, err)
	assert.Equal(t, "twilio", stored.Provider)
}

func TestReleaseIsIdempotent(t *testing.T) {
	bindings := newFakeBindings()
	gw := NewGateway(GatewayConfig{DefaultProvider: "twilio"}, bindings, testLogger())
	provider := &fakeProvider{name: "twilio"}
	gw.Register(provider)

	customerID := uuid.New()
	_, err := gw.ProvisionNumber(context.Background(), customerID, "twilio")
	require.NoError(t, err)

	first, err := gw.ReleaseNumber(context.Background(), customerID)
	require.NoError(t, err)
	assert.True(t, first.Released)
	assert.Equal(t, 1, provider.released)

	second, err := gw.ReleaseNumber(context.Background(), customerID)
	require.NoError(t, err)
	assert.True(t, second.AlreadyReleased)
	assert.False(t, second.Released)
	assert.Equal(t, 1, provider.released, "provider not called again")
}

// fakePool mirrors the contract of the postgres pool repository: claims
// are mutually exclusive and an empty pool reports PoolExhausted.
type fakePool struct {
	mu      sync.Mutex
	numbers []*model.PoolNumber
}

func (p *fakePool) Allocate(_ context.Context, customerID uuid.UUID) (*model.PoolNumber, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range p.numbers {
		if n.Status != model.PoolNumberAllocated {
			now := time.Now()
			n.Status = model.PoolNumberAllocated
			n.CustomerID = &customerID
			n.AllocatedAt = &now
			return n, nil
		}
	}
	return nil, apperrors.PoolExhausted()
}

func (p *fakePool) Release(_ context.Context, customerID uuid.UUID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range p.numbers {
		if n.Status == model.PoolNumberAllocated && n.CustomerID != nil && *n.CustomerID == customerID {
			n.Status = model.PoolNumberReleased
			n.CustomerID = nil
			return true, nil
		}
	}
	return false, nil
}

func (p *fakePool) Add(_ context.Context, phone string) (*model.PoolNumber, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := &model.PoolNumber{ID: uuid.New(), PhoneNumber: phone, Status: model.PoolNumberUnallocated}
	p.numbers = append(p.numbers, n)
	return n, nil
}

func (p *fakePool) CountFree(_ context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, n := range p.numbers {
		if n.Status != model.PoolNumberAllocated {
			count++
		}
	}
	return count, nil
}

func TestPoolAllocationExclusivity(t *testing.T) {
	pool := &fakePool{}
	_, err := pool.Add(context.Background(), "+15559990000")
	require.NoError(t, err)

	fonecloud := NewFonecloud(FonecloudConfig{BaseURL: "http://localhost"}, pool, nil)
	bindings := newFakeBindings()
	gw := NewGateway(GatewayConfig{DefaultProvider: "fonecloud"}, bindings, testLogger())
	gw.Register(fonecloud)

	const callers = 2
	results := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gw.ProvisionNumber(context.Background(), uuid.New(), "fonecloud")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, exhausted int
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		var appErr *apperrors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, apperrors.ErrPoolExhausted, appErr.Code)
		exhausted++
	}
	assert.Equal(t, 1, ok, "exactly one caller wins the single free number")
	assert.Equal(t, 1, exhausted)

	free, err := pool.CountFree(context.Background())
	require.NoError(t, err)
	assert.Zero(t, free)
}
