package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Client talks to the external token-transfer subsystem. Transfers move
// custodial value between accounts; BalanceOf reads a balance with the
// caller's proof, used for the loyalty fee tier and the admin rescue.
type Client interface {
	Transfer(ctx context.Context, instr *Instruction) error
	BalanceOf(ctx context.Context, token, account, proof string) (uint64, error)
}

// Service writes instructions into the outbox.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{db: NewDatabase(gormDB)}
}

// Enqueue records an instruction within the caller's transaction.
func (s *Service) Enqueue(tx *gorm.DB, instr *Instruction) error {
	instr.TransferID = uuid.New().String()
	instr.Status = StatusPending
	if instr.Kind == "" {
		instr.Kind = KindTransfer
	}
	return tx.Create(instr).Error
}

// Pending returns undispatched instructions oldest first.
func (s *Service) Pending() ([]Instruction, error) {
	return s.db.GetPendingInstructions()
}

// HTTPClient posts instructions to the token-transfer subsystem.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

func (c *HTTPClient) Transfer(ctx context.Context, instr *Instruction) error {
	body, err := json.Marshal(instr)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transfers", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("transfer rejected: %s", resp.Status)
	}
	return nil
}

func (c *HTTPClient) BalanceOf(ctx context.Context, token, account, proof string) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/balances/%s/%s", c.baseURL, token, account), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("X-Balance-Proof", proof)
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("balance query rejected: %s", resp.Status)
	}
	var out struct {
		Amount uint64 `json:"amount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.Amount, nil
}

// StubClient is an in-process token subsystem used by tests and the
// simulation. Balances are keyed by token then account.
type StubClient struct {
	mu       sync.Mutex
	balances map[string]map[string]uint64
	sent     []Instruction
}

func NewStubClient() *StubClient {
	return &StubClient{balances: make(map[string]map[string]uint64)}
}

func (c *StubClient) SetBalance(token, account string, amount uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.balances[token] == nil {
		c.balances[token] = make(map[string]uint64)
	}
	c.balances[token][account] = amount
}

func (c *StubClient) Transfer(_ context.Context, instr *Instruction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, *instr)
	return nil
}

func (c *StubClient) BalanceOf(_ context.Context, token, account, proof string) (uint64, error) {
	if proof == "" {
		return 0, errors.New("missing balance proof")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[token][account], nil
}

// Sent returns a copy of every dispatched instruction.
func (c *StubClient) Sent() []Instruction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Instruction{}, c.sent...)
}
