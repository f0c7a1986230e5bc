package presale

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ModuleName identifies the presale module for pause controls and events.
const ModuleName = "presale"

// NativeCurrency is the payment reference standing for the chain's native
// currency rather than an asset handle.
var NativeCurrency = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// DefaultDuration is the sale window opened by Start unless configured
// otherwise.
const DefaultDuration int64 = 120 * 24 * 60 * 60

// MaxDuration bounds the configured window so Start cannot overflow EndTime.
const MaxDuration int64 = 100 * 365 * 24 * 60 * 60

// Role names a capability set.
type Role string

const (
	RoleOperator   Role = "OPERATOR"
	RoleAuthorizer Role = "AUTHORIZER"
)

// Roles lists every known role in a stable order.
func Roles() []Role { return []Role{RoleOperator, RoleAuthorizer} }

// Valid reports whether the role is known to the registry.
func (r Role) Valid() bool {
	return r == RoleOperator || r == RoleAuthorizer
}

// ParseRole normalises a role name.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleOperator, "operator":
		return RoleOperator, nil
	case RoleAuthorizer, "authorizer":
		return RoleAuthorizer, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
}

// Phase is the lifecycle stage of the sale derived from the clock.
type Phase uint8

const (
	PhaseNotStarted Phase = iota
	PhaseActive
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhaseActive:
		return "active"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// PaymentMethod is an accepted payment instrument. Indices are assigned in
// registration order and never change.
type PaymentMethod struct {
	Index     uint32
	Reference common.Address
}

// IsNative reports whether the method is the native currency sentinel.
func (m PaymentMethod) IsNative() bool { return m.Reference == NativeCurrency }

// Sale captures the global sale record.
type Sale struct {
	StartTime      int64
	EndTime        int64
	TotalSold      *big.Int
	Outstanding    *big.Int
	Price          *big.Int
	PaymentMethods []PaymentMethod
}

// Clone returns a deep copy of the sale record.
func (s *Sale) Clone() *Sale {
	if s == nil {
		return nil
	}
	out := &Sale{
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		TotalSold:   cloneBigInt(s.TotalSold),
		Outstanding: cloneBigInt(s.Outstanding),
		Price:       cloneBigInt(s.Price),
	}
	if len(s.PaymentMethods) > 0 {
		out.PaymentMethods = append([]PaymentMethod(nil), s.PaymentMethods...)
	}
	return out
}

func (s *Sale) methodByReference(ref common.Address) (PaymentMethod, bool) {
	for _, m := range s.PaymentMethods {
		if m.Reference == ref {
			return m, true
		}
	}
	return PaymentMethod{}, false
}

func (s *Sale) normalize() {
	s.TotalSold = cloneBigInt(s.TotalSold)
	s.Outstanding = cloneBigInt(s.Outstanding)
	s.Price = cloneBigInt(s.Price)
}

// SettlementKind records how a buyer's position was closed out.
type SettlementKind uint8

const (
	SettlementNone SettlementKind = iota
	SettlementRedeemed
	SettlementRefunded
)

func (k SettlementKind) String() string {
	switch k {
	case SettlementNone:
		return "none"
	case SettlementRedeemed:
		return "redeemed"
	case SettlementRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// Account is the per-buyer ledger entry. Deposits are indexed by payment
// method index.
type Account struct {
	Address    common.Address
	Tokens     *big.Int
	Deposits   []*big.Int
	Settlement SettlementKind
}

func newAccount(addr common.Address) *Account {
	return &Account{Address: addr, Tokens: big.NewInt(0)}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := &Account{
		Address:    a.Address,
		Tokens:     cloneBigInt(a.Tokens),
		Settlement: a.Settlement,
	}
	if len(a.Deposits) > 0 {
		out.Deposits = make([]*big.Int, len(a.Deposits))
		for i, d := range a.Deposits {
			out.Deposits[i] = cloneBigInt(d)
		}
	}
	return out
}

// Deposit returns the amount deposited through the method index.
func (a *Account) Deposit(index uint32) *big.Int {
	if a == nil || int(index) >= len(a.Deposits) {
		return big.NewInt(0)
	}
	return cloneBigInt(a.Deposits[index])
}

// HasDeposits reports whether any deposit is non-zero.
func (a *Account) HasDeposits() bool {
	if a == nil {
		return false
	}
	for _, d := range a.Deposits {
		if d != nil && d.Sign() > 0 {
			return true
		}
	}
	return false
}

func (a *Account) credit(index uint32, amount *big.Int) {
	for uint32(len(a.Deposits)) <= index {
		a.Deposits = append(a.Deposits, big.NewInt(0))
	}
	a.Deposits[index] = new(big.Int).Add(cloneBigInt(a.Deposits[index]), amount)
}

// Config holds the parameters fixed at construction.
type Config struct {
	// Token is the asset reference of the presale token.
	Token         common.Address
	TokenDecimals uint8
	// SoftCap is expressed in token base units.
	SoftCap *big.Int
	// Duration is the sale window length in seconds.
	Duration int64
	// Custody is the ledger identity holding payments and the token supply.
	Custody common.Address
}

// MinimumPurchase returns one whole token in base units.
func (c Config) MinimumPurchase() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(c.TokenDecimals)), nil)
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.Token == (common.Address{}) {
		return fmt.Errorf("presale: token reference required")
	}
	if c.Token == NativeCurrency {
		return fmt.Errorf("presale: token reference cannot be the native currency")
	}
	if c.Custody == (common.Address{}) {
		return fmt.Errorf("presale: custody address required")
	}
	if c.SoftCap == nil || c.SoftCap.Sign() <= 0 {
		return fmt.Errorf("presale: soft cap must be positive")
	}
	if c.Duration <= 0 {
		return fmt.Errorf("presale: duration must be positive")
	}
	if c.Duration > MaxDuration {
		return fmt.Errorf("presale: duration out of range")
	}
	return nil
}

// PurchaseRequest carries an off-chain authorization for a purchase.
type PurchaseRequest struct {
	PaymentMethod common.Address
	PaymentAmount *big.Int
	TokenAmount   *big.Int
	Expiry        *big.Int
	Signature     []byte
}

// Receipt describes an accepted purchase.
type Receipt struct {
	Buyer         common.Address
	PaymentMethod PaymentMethod
	PaymentAmount *big.Int
	TokenAmount   *big.Int
	TotalSold     *big.Int
	Authorizer    common.Address
	Timestamp     int64
}

// Asset is the narrow handle used for the presale token and every payment
// instrument.
type Asset interface {
	BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error)
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error
}

// AssetResolver maps a reference to its asset handle. The native currency
// sentinel must resolve as well.
type AssetResolver interface {
	Asset(reference common.Address) (Asset, error)
}

// AssetResolverFunc adapts a function to AssetResolver.
type AssetResolverFunc func(reference common.Address) (Asset, error)

// Asset implements AssetResolver.
func (f AssetResolverFunc) Asset(reference common.Address) (Asset, error) { return f(reference) }

// Batch groups the mutations of one engine call so the store can apply them
// atomically.
type Batch struct {
	Sale     *Sale
	Accounts []*Account
	Roles    map[Role][]common.Address
}

// Store persists the presale ledger.
type Store interface {
	PresaleSale() (*Sale, bool, error)
	PresaleAccount(addr common.Address) (*Account, bool, error)
	PresaleRoleMembers(role Role) ([]common.Address, error)
	PresaleAccounts(fn func(*Account) bool) error
	PresaleCommit(batch *Batch) error
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
