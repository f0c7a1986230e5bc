package presale

import (
	"bytes"
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Grant adds account to the role. Only operators may grant.
func (e *Engine) Grant(ctx context.Context, caller common.Address, role Role, account common.Address) error {
	_, release := e.enter(ctx)
	defer release()

	if !role.Valid() {
		return ErrUnknownRole
	}
	if err := e.requireRole(RoleOperator, caller); err != nil {
		return err
	}
	if account == (common.Address{}) {
		return ErrInvalidAddress
	}
	members, err := e.store.PresaleRoleMembers(role)
	if err != nil {
		return err
	}
	if containsAddress(members, account) {
		return nil
	}
	members = sortAddresses(append(members, account))
	if err := e.store.PresaleCommit(&Batch{Roles: map[Role][]common.Address{role: members}}); err != nil {
		return err
	}
	e.emit(newRoleEvent(EventTypeRoleGranted, role, account, caller))
	return nil
}

// Revoke removes account from the role. Only operators may revoke.
func (e *Engine) Revoke(ctx context.Context, caller common.Address, role Role, account common.Address) error {
	_, release := e.enter(ctx)
	defer release()

	if !role.Valid() {
		return ErrUnknownRole
	}
	if err := e.requireRole(RoleOperator, caller); err != nil {
		return err
	}
	return e.removeMember(role, account, caller)
}

// Renounce drops the caller's own membership. Renouncing the last operator is
// permitted and leaves the sale without administrators.
func (e *Engine) Renounce(ctx context.Context, caller common.Address, role Role) error {
	_, release := e.enter(ctx)
	defer release()

	if !role.Valid() {
		return ErrUnknownRole
	}
	return e.removeMember(role, caller, caller)
}

// HasRole reports whether account currently holds role.
func (e *Engine) HasRole(role Role, account common.Address) bool {
	ok, err := e.hasRole(role, account)
	return err == nil && ok
}

// RoleMembers returns the sorted members of role.
func (e *Engine) RoleMembers(role Role) ([]common.Address, error) {
	if !role.Valid() {
		return nil, ErrUnknownRole
	}
	members, err := e.store.PresaleRoleMembers(role)
	if err != nil {
		return nil, err
	}
	return append([]common.Address(nil), members...), nil
}

func (e *Engine) removeMember(role Role, account, caller common.Address) error {
	members, err := e.store.PresaleRoleMembers(role)
	if err != nil {
		return err
	}
	if !containsAddress(members, account) {
		return nil
	}
	kept := make([]common.Address, 0, len(members)-1)
	for _, member := range members {
		if member != account {
			kept = append(kept, member)
		}
	}
	if err := e.store.PresaleCommit(&Batch{Roles: map[Role][]common.Address{role: kept}}); err != nil {
		return err
	}
	e.emit(newRoleEvent(EventTypeRoleRevoked, role, account, caller))
	return nil
}

func (e *Engine) hasRole(role Role, account common.Address) (bool, error) {
	if !role.Valid() {
		return false, ErrUnknownRole
	}
	members, err := e.store.PresaleRoleMembers(role)
	if err != nil {
		return false, err
	}
	return containsAddress(members, account), nil
}

func (e *Engine) requireRole(role Role, account common.Address) error {
	ok, err := e.hasRole(role, account)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccessDenied
	}
	return nil
}

func containsAddress(list []common.Address, addr common.Address) bool {
	for _, member := range list {
		if member == addr {
			return true
		}
	}
	return false
}

func sortAddresses(list []common.Address) []common.Address {
	sort.Slice(list, func(i, j int) bool { return bytes.Compare(list[i][:], list[j][:]) < 0 })
	return list
}
