package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/finflow/internal/application/audit"
	"github.com/garyjia/finflow/internal/application/sideeffect"
	"github.com/garyjia/finflow/internal/domain/entity"
	"github.com/garyjia/finflow/internal/domain/errs"
	"github.com/garyjia/finflow/internal/domain/event"
	domainwf "github.com/garyjia/finflow/internal/domain/workflow"
)

// Side effect names, also used as dispatch ledger keys
const (
	EffectSpawnDeliveryAndPayable     = "spawn_delivery_and_payable"
	EffectMarkPurchaseOrdersDelivered = "mark_purchase_orders_delivered"
	EffectPublishTransition           = "publish_transition_event"
)

func (e *Engine) registerEffects() {
	e.effects.Register(entity.TypePurchaseOrder, domainwf.StateApprovedFinance, sideeffect.Effect{
		Name:     EffectSpawnDeliveryAndPayable,
		Critical: true,
		Apply:    e.spawnDeliveryAndPayable,
	})
	e.effects.Register(entity.TypeDeliveryOrder, domainwf.StateDelivered, sideeffect.Effect{
		Name:     EffectMarkPurchaseOrdersDelivered,
		Critical: true,
		Apply:    e.markPurchaseOrdersDelivered,
	})

	if e.events != nil {
		e.effects.RegisterAll(sideeffect.Effect{
			Name:  EffectPublishTransition,
			Apply: e.publishTransition,
		})
	}
}

// spawnDeliveryAndPayable opens the shipment and the supplier invoice of a
// finance-approved purchase order
func (e *Engine) spawnDeliveryAndPayable(ctx context.Context, t sideeffect.Transition) ([]string, error) {
	po, err := e.repos.PurchaseOrders.Load(ctx, t.DocumentCode, true)
	if err != nil {
		return nil, err
	}

	do := &entity.DeliveryOrder{
		SalesOrderCode:     po.SalesOrderCode,
		PurchaseOrderCodes: []string{po.Code},
	}
	if err := e.insert(ctx, e.kinds[entity.TypeDeliveryOrder], do, entity.SystemActor, "spawned by "+po.Code); err != nil {
		return nil, fmt.Errorf("create delivery order: %w", err)
	}

	ap := e.newPayable(po, t.At)
	if err := e.insert(ctx, e.kinds[entity.TypeAccountsPayable], ap, entity.SystemActor, "spawned by "+po.Code); err != nil {
		return nil, fmt.Errorf("create accounts payable: %w", err)
	}

	e.logger.Info("Spawned delivery order and payable",
		"purchase_order_code", po.Code,
		"delivery_order_code", do.Code,
		"accounts_payable_code", ap.Code,
	)
	return []string{do.Code, ap.Code}, nil
}

// markPurchaseOrdersDelivered flags the referenced purchase orders as
// delivered and starts invoicing the sales order once all of its live
// purchase orders are delivered
func (e *Engine) markPurchaseOrdersDelivered(ctx context.Context, t sideeffect.Transition) ([]string, error) {
	do, err := e.repos.DeliveryOrders.Load(ctx, t.DocumentCode, true)
	if err != nil {
		return nil, err
	}

	var touched []string
	for _, code := range do.PurchaseOrderCodes {
		po, err := e.repos.PurchaseOrders.Load(ctx, code, true)
		if errs.KindOf(err) == errs.KindNotFound {
			e.logger.Info("Delivery order references a missing purchase order",
				"delivery_order_code", do.Code,
				"purchase_order_code", code,
			)
			continue
		}
		if err != nil {
			return nil, err
		}
		if po.IsDeleted || po.DeliveryStatus == entity.DeliveryStatusDelivered {
			continue
		}

		po.DeliveryStatus = entity.DeliveryStatusDelivered
		po.UpdatedAt = t.At
		if err := e.repos.PurchaseOrders.Update(ctx, po); err != nil {
			return nil, err
		}
		touched = append(touched, po.Code)
		outboxFrom(ctx).note(audit.Entry{
			Actor:        entity.SystemActor,
			Action:       "mark_delivered",
			ResourceType: entity.TypePurchaseOrder.String(),
			ResourceCode: po.Code,
			ResourceName: po.SupplierName,
			Before:       map[string]string{"delivery_status": entity.DeliveryStatusPending},
			After:        map[string]string{"delivery_status": entity.DeliveryStatusDelivered},
			Notes:        "delivered by " + do.Code,
		})
	}

	invoiced, err := e.advanceSalesOrder(ctx, do.SalesOrderCode)
	if err != nil {
		return nil, err
	}
	if invoiced {
		touched = append(touched, do.SalesOrderCode)
	}
	return touched, nil
}

// advanceSalesOrder applies start_invoicing when the sales order is open and
// every live purchase order under it is delivered
func (e *Engine) advanceSalesOrder(ctx context.Context, code string) (bool, error) {
	so, err := e.repos.SalesOrders.Load(ctx, code, true)
	if errs.KindOf(err) == errs.KindNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if so.IsDeleted || so.Status != domainwf.StateOpen.String() {
		return false, nil
	}

	pos, err := e.livePurchaseOrders(ctx, so.Code)
	if err != nil {
		return false, err
	}
	if len(pos) == 0 {
		return false, nil
	}
	for _, po := range pos {
		if po.DeliveryStatus != entity.DeliveryStatusDelivered {
			return false, nil
		}
	}

	if _, err := e.applyLocked(ctx, entity.TypeSalesOrder, so.Code, domainwf.ActionStartInvoicing, entity.SystemActor); err != nil {
		return false, fmt.Errorf("start invoicing %s: %w", so.Code, err)
	}
	return true, nil
}

// publishTransition announces a committed transition on the event bus
func (e *Engine) publishTransition(ctx context.Context, t sideeffect.Transition) ([]string, error) {
	evt := event.NewTransition(
		t.DocumentType.String(),
		t.DocumentCode,
		t.Action.String(),
		t.From.String(),
		t.To.String(),
		t.Actor.Code,
		t.At,
	)
	e.events.DispatchAsync(ctx, evt)
	return nil, nil
}
