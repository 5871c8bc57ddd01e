package handlers

import (
	"conveyor/internal/dispatcher"
	"conveyor/internal/logger"
	"conveyor/pkg/models"
)

// RegisterAll wires every handler of the closed command set into the
// registry. Called once at worker startup.
func RegisterAll(registry *dispatcher.Registry, enqueuer CommandEnqueuer, log logger.Logger) {
	users := NewUserHandler()
	registry.MustRegister(models.FamilyUserRegistration, models.TypeCreate, dispatcher.HandlerFunc(users.Create))

	orders := NewOrderHandler(enqueuer)
	registry.MustRegister(models.FamilyStockOrder, models.TypeCreate, dispatcher.HandlerFunc(orders.Create))
	registry.MustRegister(models.FamilyStockOrder, models.TypeConfirm, dispatcher.HandlerFunc(orders.Confirm))
	registry.MustRegister(models.FamilyStockOrder, models.TypeShip, dispatcher.HandlerFunc(orders.Ship))
	registry.MustRegister(models.FamilyStockOrder, models.TypeCancel, dispatcher.HandlerFunc(orders.Cancel))
	registry.MustRegister(models.FamilyStockOrder, models.TypeReceive, dispatcher.HandlerFunc(orders.Receive))
	registry.MustRegister(models.FamilyStockOrder, models.TypeGenerateInvoice, dispatcher.HandlerFunc(orders.GenerateInvoice))

	invoices := NewInvoiceHandler()
	registry.MustRegister(models.FamilyInvoice, models.TypeGenerate, dispatcher.HandlerFunc(invoices.Generate))
	registry.MustRegister(models.FamilyInvoice, models.TypeMarkPaid, dispatcher.HandlerFunc(invoices.MarkPaid))
	registry.MustRegister(models.FamilyInvoice, models.TypeCancel, dispatcher.HandlerFunc(invoices.Cancel))
	registry.MustRegister(models.FamilyInvoice, models.TypeUpdate, dispatcher.HandlerFunc(invoices.Update))

	stock := NewStockHandler(enqueuer, log)
	registry.MustRegister(models.FamilyStockControl, models.TypeCheck, dispatcher.HandlerFunc(stock.Check))
	registry.MustRegister(models.FamilyStockControl, models.TypeDecrease, dispatcher.HandlerFunc(stock.Decrease))
	registry.MustRegister(models.FamilyStockControl, models.TypeIncrease, dispatcher.HandlerFunc(stock.Increase))
	registry.MustRegister(models.FamilyStockControl, models.TypeLowStockAlert, dispatcher.HandlerFunc(stock.LowStockAlert))
	registry.MustRegister(models.FamilyStockControl, models.TypeOutOfStockAlert, dispatcher.HandlerFunc(stock.OutOfStockAlert))
}
