package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"go.opentelemetry.io/otel/attribute"
)

type RefundInput struct {
	OrderID       string
	VendorID      string
	TransactionID string
	Amount        int64
	Currency      string
	Reason        string
}

// RefundUseCase returns money for a captured transaction through the gateway.
type RefundUseCase struct {
	gateway dompay.Gateway
	obs     application.Instruments
}

func NewRefundUseCase(gateway dompay.Gateway, tel observability.Observability) *RefundUseCase {
	return &RefundUseCase{gateway: gateway, obs: application.NewInstruments(tel, paymentService)}
}

// Execute returns the gateway's refund id.
func (uc *RefundUseCase) Execute(ctx context.Context, in RefundInput) (_ string, err error) {
	ctx, run := uc.obs.Begin(ctx, useCaseRefund, "RefundPayment",
		attribute.String("order.id", in.OrderID),
		attribute.String("payment.transaction_id", in.TransactionID),
		attribute.Int64("payment.refund_amount", in.Amount),
	)
	defer func() { run.End(err) }()
	run.Annotate(
		observability.F("order_id", in.OrderID),
		observability.F("vendor_id", in.VendorID),
		observability.F("amount", in.Amount),
		observability.F("reason", in.Reason),
	)

	if in.TransactionID == "" {
		run.Fail("TRANSACTION_ID_REQUIRED")
		return "", application.Validation("transaction id is required")
	}
	if in.Amount <= 0 {
		run.Fail("AMOUNT_INVALID")
		return "", application.Validation("refund amount must be greater than zero")
	}

	start := time.Now()
	id, err := uc.gateway.Refund(ctx, dompay.RefundRequest{
		TransactionID: in.TransactionID,
		Amount:        in.Amount,
		Currency:      in.Currency,
		Reason:        in.Reason,
	})
	uc.obs.External(peerGateway, "refund", start, err)
	if err != nil {
		run.Fail("GATEWAY_REFUND_FAILED")
		return "", fmt.Errorf("%w: refund: %w", dompay.ErrGateway, err)
	}
	run.Annotate(observability.F("refund_id", id))
	return id, nil
}
