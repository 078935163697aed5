package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// PaymentURLBase is the mock payment gateway. Payments are stubbed; no
// gateway is contacted.
const PaymentURLBase = "https://payment.mock/session/"

// Payment statuses.
const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
)

// Payment is a payment for a booth session.
type Payment struct {
	SessionID string    `json:"sessionId"`
	Amount    int       `json:"amount"`
	Status    string    `json:"status"`
	URL       string    `json:"paymentUrl"`
	Created   time.Time `json:"created"`
}

// PaymentStore keeps payments by session ID.
type PaymentStore interface {
	Put(ctx context.Context, p Payment) error
	// Get returns nil if there is no payment for the session.
	Get(ctx context.Context, sessionID string) (*Payment, error)
}

// MemoryPayments is a PaymentStore in memory.
type MemoryPayments struct {
	mu       sync.Mutex
	payments map[string]Payment
}

var _ PaymentStore = (*MemoryPayments)(nil)

// NewMemoryPayments returns an empty store.
func NewMemoryPayments() *MemoryPayments {
	return &MemoryPayments{payments: map[string]Payment{}}
}

func (m *MemoryPayments) Put(ctx context.Context, p Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.SessionID] = p
	return nil
}

func (m *MemoryPayments) Get(ctx context.Context, sessionID string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[sessionID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// RedisPayments is a PaymentStore in redis. Payments expire after the TTL.
type RedisPayments struct {
	client *redis.Client
	ttl    time.Duration
}

var _ PaymentStore = (*RedisPayments)(nil)

// RedisOpts are the redis connection settings.
type RedisOpts struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration // No expiry if 0.
}

// NewRedisPayments connects to redis lazily; use Ping to check the connection.
func NewRedisPayments(o RedisOpts) *RedisPayments {
	client := redis.NewClient(&redis.Options{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,
	})
	return &RedisPayments{client: client, ttl: o.TTL}
}

func (r *RedisPayments) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func paymentKey(sessionID string) string {
	return "payment:" + sessionID
}

func (r *RedisPayments) Put(ctx context.Context, p Payment) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, paymentKey(p.SessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("storing payment: %w", err)
	}
	return nil
}

func (r *RedisPayments) Get(ctx context.Context, sessionID string) (*Payment, error) {
	data, err := r.client.Get(ctx, paymentKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading payment: %w", err)
	}
	var p Payment
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding payment: %w", err)
	}
	return &p, nil
}

func (r *RedisPayments) Close() error {
	return r.client.Close()
}

type createPaymentRequest struct {
	Amount    int    `json:"amount"`
	SessionID string `json:"sessionId" binding:"required"`
}

func (s *Server) createPayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, "invalid request", err)
		return
	}
	if !sessionIDPattern.MatchString(req.SessionID) {
		s.fail(c, http.StatusBadRequest, "invalid session id", nil)
		return
	}
	if req.Amount <= 0 {
		req.Amount = s.opts.PaymentAmount
	}
	p := Payment{
		SessionID: req.SessionID,
		Amount:    req.Amount,
		Status:    PaymentPending,
		URL:       PaymentURLBase + req.SessionID,
		Created:   time.Now(),
	}
	if err := s.opts.Payments.Put(c.Request.Context(), p); err != nil {
		s.fail(c, http.StatusInternalServerError, "creating payment", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessionId": p.SessionID, "paymentUrl": p.URL})
}

// verifyPayment confirms the payment of a session. The gateway is a mock,
// so every payment verifies; a payment created earlier is marked paid.
func (s *Server) verifyPayment(c *gin.Context) {
	id := c.Param("sessionId")
	ctx := c.Request.Context()
	p, err := s.opts.Payments.Get(ctx, id)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "verifying payment", err)
		return
	}
	if p != nil && p.Status != PaymentPaid {
		p.Status = PaymentPaid
		if err := s.opts.Payments.Put(ctx, *p); err != nil {
			s.fail(c, http.StatusInternalServerError, "verifying payment", err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessionId": id})
}
