// Package token is a small balance/allowance asset ledger with ERC-20 style
// transfer, transferFrom, approve and mint. The bank only sees it through the
// Port adapter; it exists for tests, simulations and the CLI's local mode.
package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"TrancheBank/internal/safemath"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidAccount        = errors.New("invalid account")
	ErrNegativeAmount        = errors.New("negative amount")
)

// State is the persisted form of the ledger.
type State struct {
	Balances    map[string]sdkmath.Int            `json:"balances"`
	Allowances  map[string]map[string]sdkmath.Int `json:"allowances"` // owner -> spender -> amount
	TotalSupply sdkmath.Int                       `json:"total_supply"`
	UpdatedAt   time.Time                         `json:"updated_at"`
}

// Memory is an in-process asset ledger, optionally backed by a JSON file.
// Every operation either fully applies (including the file write) or changes nothing.
type Memory struct {
	mu       sync.Mutex
	state    State
	filePath string
}

// NewMemory returns an empty, non-persistent ledger.
func NewMemory() *Memory {
	return &Memory{state: emptyState()}
}

// OpenFile loads the ledger from filePath, or starts empty if the file doesn't exist.
func OpenFile(filePath string) (*Memory, error) {
	st, err := loadState(filePath)
	if err != nil {
		return nil, fmt.Errorf("load token state: %w", err)
	}
	return &Memory{state: *st, filePath: filePath}, nil
}

// Reload replaces the in-memory state with the file's current contents, so
// transfers written by another process become visible. No-op without a file.
func (m *Memory) Reload() error {
	if m.filePath == "" {
		return nil
	}
	st, err := loadState(m.filePath)
	if err != nil {
		return fmt.Errorf("reload token state: %w", err)
	}
	m.mu.Lock()
	m.state = *st
	m.mu.Unlock()
	return nil
}

// Mint creates amount new units for to.
func (m *Memory) Mint(to string, amount sdkmath.Int) error {
	if err := checkArgs(to, amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	prevBal, prevSupply := m.balance(to), m.state.TotalSupply
	supply, err := safemath.Add(prevSupply, amount)
	if err != nil {
		return fmt.Errorf("mint %s to %s: %w", amount, to, err)
	}
	// a balance never exceeds the supply, so it cannot overflow either
	m.state.Balances[to] = prevBal.Add(amount)
	m.state.TotalSupply = supply
	return m.persist(func() {
		m.state.Balances[to] = prevBal
		m.state.TotalSupply = prevSupply
	})
}

// Approve sets spender's allowance over owner's balance.
func (m *Memory) Approve(owner, spender string, amount sdkmath.Int) error {
	if err := checkArgs(owner, amount); err != nil {
		return err
	}
	if spender == "" {
		return ErrInvalidAccount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.allowance(owner, spender)
	m.setAllowance(owner, spender, amount)
	return m.persist(func() { m.setAllowance(owner, spender, prev) })
}

// Transfer moves amount from one account to another.
func (m *Memory) Transfer(from, to string, amount sdkmath.Int) error {
	if err := checkArgs(to, amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	undo, err := m.move(from, to, amount)
	if err != nil {
		return err
	}
	return m.persist(undo)
}

// TransferFrom moves amount from one account to another on behalf of spender,
// consuming spender's allowance.
func (m *Memory) TransferFrom(spender, from, to string, amount sdkmath.Int) error {
	if err := checkArgs(to, amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := m.allowance(from, spender)
	if allowed.LT(amount) {
		return fmt.Errorf("%w: %s allows %s to spend %s, need %s", ErrInsufficientAllowance, from, spender, allowed, amount)
	}
	undoMove, err := m.move(from, to, amount)
	if err != nil {
		return err
	}
	m.setAllowance(from, spender, allowed.Sub(amount))
	return m.persist(func() {
		m.setAllowance(from, spender, allowed)
		undoMove()
	})
}

// BalanceOf returns account's balance.
func (m *Memory) BalanceOf(account string) sdkmath.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance(account)
}

// Allowance returns how much spender may still move out of owner's balance.
func (m *Memory) Allowance(owner, spender string) sdkmath.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowance(owner, spender)
}

// TotalSupply is the sum of all minted units.
func (m *Memory) TotalSupply() sdkmath.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.TotalSupply
}

func (m *Memory) move(from, to string, amount sdkmath.Int) (undo func(), err error) {
	if from == "" {
		return nil, ErrInvalidAccount
	}
	fromBal := m.balance(from)
	if fromBal.LT(amount) {
		return nil, fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientBalance, from, fromBal, amount)
	}
	toBal := m.balance(to)
	m.state.Balances[from] = fromBal.Sub(amount)
	m.state.Balances[to] = m.balance(to).Add(amount)
	return func() {
		m.state.Balances[to] = toBal
		m.state.Balances[from] = fromBal
	}, nil
}

func (m *Memory) balance(account string) sdkmath.Int {
	if b, ok := m.state.Balances[account]; ok && !b.IsNil() {
		return b
	}
	return sdkmath.ZeroInt()
}

func (m *Memory) allowance(owner, spender string) sdkmath.Int {
	if a, ok := m.state.Allowances[owner][spender]; ok && !a.IsNil() {
		return a
	}
	return sdkmath.ZeroInt()
}

func (m *Memory) setAllowance(owner, spender string, amount sdkmath.Int) {
	if m.state.Allowances[owner] == nil {
		m.state.Allowances[owner] = make(map[string]sdkmath.Int)
	}
	m.state.Allowances[owner][spender] = amount
}

// persist writes the state file; on failure it runs undo so the ledger is unchanged.
func (m *Memory) persist(undo func()) error {
	if m.filePath == "" {
		return nil
	}
	if err := saveState(m.filePath, &m.state); err != nil {
		undo()
		return fmt.Errorf("save token state: %w", err)
	}
	return nil
}

func checkArgs(account string, amount sdkmath.Int) error {
	if account == "" {
		return ErrInvalidAccount
	}
	if amount.IsNil() || amount.IsNegative() {
		return ErrNegativeAmount
	}
	return nil
}

func emptyState() State {
	return State{
		Balances:    make(map[string]sdkmath.Int),
		Allowances:  make(map[string]map[string]sdkmath.Int),
		TotalSupply: sdkmath.ZeroInt(),
	}
}

func loadState(filePath string) (*State, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			st := emptyState()
			return &st, nil
		}
		return nil, err
	}
	st := emptyState()
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	if st.Balances == nil {
		st.Balances = make(map[string]sdkmath.Int)
	}
	if st.Allowances == nil {
		st.Allowances = make(map[string]map[string]sdkmath.Int)
	}
	if st.TotalSupply.IsNil() {
		st.TotalSupply = sdkmath.ZeroInt()
	}
	return &st, nil
}

func saveState(filePath string, st *State) error {
	st.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(filePath, data, 0644)
}
