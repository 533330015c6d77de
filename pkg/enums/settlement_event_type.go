package enums

import "fmt"

// SettlementEventType labels the immutable settlement audit rows.
type SettlementEventType string

const (
	SettlementEventTypeProvisionSucceeded SettlementEventType = "provision_succeeded"
	SettlementEventTypeProvisionFailed    SettlementEventType = "provision_failed"
	SettlementEventTypeSaleSettled        SettlementEventType = "sale_settled"
	SettlementEventTypeSaleRefunded       SettlementEventType = "sale_refunded"
	SettlementEventTypeVaultDestroyed     SettlementEventType = "vault_destroyed"
)

var validSettlementEventTypes = []SettlementEventType{
	SettlementEventTypeProvisionSucceeded,
	SettlementEventTypeProvisionFailed,
	SettlementEventTypeSaleSettled,
	SettlementEventTypeSaleRefunded,
	SettlementEventTypeVaultDestroyed,
}

// IsValid reports whether the value matches a canonical settlement event type.
func (t SettlementEventType) IsValid() bool {
	for _, candidate := range validSettlementEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseSettlementEventType converts raw input into SettlementEventType.
func ParseSettlementEventType(value string) (SettlementEventType, error) {
	for _, candidate := range validSettlementEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid settlement event type %q", value)
}
