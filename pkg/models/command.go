package models

import "fmt"

type Family string

const (
	FamilyUserRegistration Family = "user-registration"
	FamilyStockOrder       Family = "stock-order"
	FamilyInvoice          Family = "invoice"
	FamilyStockControl     Family = "stock-control"
)

func Families() []Family {
	return []Family{FamilyUserRegistration, FamilyStockOrder, FamilyInvoice, FamilyStockControl}
}

func ParseFamily(s string) (Family, bool) {
	switch Family(s) {
	case FamilyUserRegistration, FamilyStockOrder, FamilyInvoice, FamilyStockControl:
		return Family(s), true
	}
	return "", false
}

type CommandType string

const (
	TypeCreate          CommandType = "CREATE"
	TypeConfirm         CommandType = "CONFIRM"
	TypeShip            CommandType = "SHIP"
	TypeCancel          CommandType = "CANCEL"
	TypeReceive         CommandType = "RECEIVE"
	TypeGenerateInvoice CommandType = "GENERATE_INVOICE"
	TypeGenerate        CommandType = "GENERATE"
	TypeMarkPaid        CommandType = "MARK_PAID"
	TypeUpdate          CommandType = "UPDATE"
	TypeCheck           CommandType = "CHECK"
	TypeDecrease        CommandType = "DECREASE"
	TypeIncrease        CommandType = "INCREASE"
	TypeLowStockAlert   CommandType = "LOW_STOCK_ALERT"
	TypeOutOfStockAlert CommandType = "OUT_OF_STOCK_ALERT"
)

var familyTypes = map[Family][]CommandType{
	FamilyUserRegistration: {TypeCreate},
	FamilyStockOrder:       {TypeCreate, TypeConfirm, TypeShip, TypeCancel, TypeReceive, TypeGenerateInvoice},
	FamilyInvoice:          {TypeGenerate, TypeMarkPaid, TypeCancel, TypeUpdate},
	FamilyStockControl:     {TypeCheck, TypeDecrease, TypeIncrease, TypeLowStockAlert, TypeOutOfStockAlert},
}

// ValidCommand reports whether the (family, type) pair belongs to the
// closed command set.
func ValidCommand(family Family, cmdType CommandType) bool {
	for _, t := range familyTypes[family] {
		if t == cmdType {
			return true
		}
	}
	return false
}

func FamilyTypes(family Family) []CommandType {
	return familyTypes[family]
}

func Topic(family Family) string {
	return fmt.Sprintf("%s-topic", family)
}

func RetryTopic(family Family) string {
	return Topic(family) + ".retry"
}

func DLQTopic(family Family) string {
	return Topic(family) + ".dlq"
}
