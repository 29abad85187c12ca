package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordersight/ordersight/internal/model"
	"github.com/ordersight/ordersight/internal/rules"
)

func newTestExtractor() *Extractor {
	return New(rules.Default())
}

func TestCompletionDataFullPipeline(t *testing.T) {
	// A realistic finished run: extraction, payment, anchor and
	// finalization stages all carrying structured output.
	x := newTestExtractor()
	run := model.RunRecord{
		RunID: "run-1",
		Stages: []model.StageRecord{
			{
				ToolName: "OrderExtractionTool",
				Status:   model.StatusCompleted,
				Output: map[string]any{
					"buyer_email":       "buyer@example.com",
					"model":             "SolarPanel X2",
					"quantity":          float64(10),
					"delivery_location": "Rotterdam",
				},
			},
			{
				ToolName: "stripe_payment",
				Status:   model.StatusCompleted,
				Output: map[string]any{
					"payment_link": "https://checkout.stripe.com/c/pay/cs_test_a1b2",
				},
			},
			{
				ToolName: "blockchain_anchor",
				Status:   model.StatusCompleted,
				Output: map[string]any{
					"tx_hash": "0x" + hex64,
				},
			},
			{
				Name:   "Finalize Order",
				Status: model.StatusCompleted,
				Output: map[string]any{
					"order_id":        "ORD-2026-0301",
					"final_total_usd": 12500.5,
				},
			},
		},
	}

	data := x.CompletionData(run)
	assert.Equal(t, "ORD-2026-0301", data.OrderID)
	assert.Equal(t, "buyer@example.com", data.BuyerContact)
	assert.Equal(t, "SolarPanel X2", data.ItemDescription)
	assert.Equal(t, "10", data.Quantity, "numbers render without float suffix")
	assert.Equal(t, "Rotterdam", data.DeliveryLocation)
	assert.Equal(t, "12500.5", data.TotalAmount)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_a1b2", data.PaymentReference)
	assert.Equal(t, "0x"+hex64, data.LedgerReference)
}

const hex64 = "a3f1c2d4e5b6978812345678901234567890abcdefabcdefabcdef0123456789"

func TestPaymentReferenceExactLinkPreserved(t *testing.T) {
	// The payment link must come back byte-for-byte; a truncated or
	// re-encoded URL is useless to the dashboard.
	x := newTestExtractor()
	link := "https://checkout.stripe.com/c/pay/cs_test_b1N9#fidkdWxOYHwnPyd1blpxYHZxWjA0"
	run := model.RunRecord{
		Stages: []model.StageRecord{
			{ToolName: "stripe_payment", Status: model.StatusCompleted,
				Output: map[string]any{"payment_link": link}},
		},
	}
	assert.Equal(t, link, x.CompletionData(run).PaymentReference)
}

func TestPaymentReferenceScansProseOutput(t *testing.T) {
	x := newTestExtractor()
	run := model.RunRecord{
		Stages: []model.StageRecord{
			{ToolName: "stripe_payment", Status: model.StatusCompleted,
				Output: "Checkout ready: https://checkout.stripe.com/c/pay/cs_live_77 please forward to buyer"},
		},
	}
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_live_77",
		x.CompletionData(run).PaymentReference)
}

func TestLedgerReferenceGenericScan(t *testing.T) {
	// No ledger-kind stage output at all; the hash hides in an unrelated
	// stage's log-style output and the generic scan finds it.
	x := newTestExtractor()
	run := model.RunRecord{
		Stages: []model.StageRecord{
			{Name: "Wrap Up", Status: model.StatusCompleted,
				Output: "anchored receipt " + hex64 + " recorded"},
		},
	}
	assert.Equal(t, hex64, x.CompletionData(run).LedgerReference)
}

func TestBuyerContactEmailScan(t *testing.T) {
	x := newTestExtractor()
	run := model.RunRecord{
		Stages: []model.StageRecord{
			{ToolName: "OrderExtractionTool", Status: model.StatusCompleted,
				Output: "Parsed order from jane.doe+orders@example.org for 3 units"},
		},
	}
	assert.Equal(t, "jane.doe+orders@example.org", x.CompletionData(run).BuyerContact)
}

func TestJSONStringOutputIsParsed(t *testing.T) {
	x := newTestExtractor()
	run := model.RunRecord{
		Stages: []model.StageRecord{
			{ToolName: "OrderExtractionTool", Status: model.StatusCompleted,
				Output: `{"buyer_email":"b@x.io","quantity":4}`},
		},
	}
	data := x.CompletionData(run)
	assert.Equal(t, "b@x.io", data.BuyerContact)
	assert.Equal(t, "4", data.Quantity)
}

func TestNestedWrapperOutput(t *testing.T) {
	// Values one wrapper level down still resolve.
	x := newTestExtractor()
	run := model.RunRecord{
		Stages: []model.StageRecord{
			{ToolName: "OrderExtractionTool", Status: model.StatusCompleted,
				Output: map[string]any{
					"order_details": map[string]any{
						"buyer_email": "deep@x.io",
						"quantity":    float64(2),
					},
				}},
		},
	}
	data := x.CompletionData(run)
	assert.Equal(t, "deep@x.io", data.BuyerContact)
	assert.Equal(t, "2", data.Quantity)
}

func TestSynonymPriorityOrder(t *testing.T) {
	// payment_link outranks the generic payment_reference synonym.
	x := newTestExtractor()
	run := model.RunRecord{
		Stages: []model.StageRecord{
			{ToolName: "stripe_payment", Status: model.StatusCompleted,
				Output: map[string]any{
					"payment_reference": "https://checkout.stripe.com/c/pay/generic",
					"payment_link":      "https://checkout.stripe.com/c/pay/preferred",
				}},
		},
	}
	assert.Equal(t, "https://checkout.stripe.com/c/pay/preferred",
		x.CompletionData(run).PaymentReference)
}

func TestMalformedOutputDegradesToUnknown(t *testing.T) {
	x := newTestExtractor()
	run := model.RunRecord{
		Stages: []model.StageRecord{
			{ToolName: "OrderExtractionTool", Status: model.StatusCompleted,
				Output: "{{not json at all"},
			{ToolName: "stripe_payment", Status: model.StatusCompleted,
				Output: []any{"unexpected", "array"}},
		},
	}

	data := x.CompletionData(run)
	assert.Equal(t, model.Unknown, data.OrderID)
	assert.Equal(t, model.Unknown, data.ItemDescription)
	assert.Equal(t, model.Unknown, data.Quantity)
	assert.Equal(t, model.Unknown, data.PaymentReference)
	assert.Equal(t, model.Unknown, data.LedgerReference)
}

func TestEmptyRunAllUnknown(t *testing.T) {
	x := newTestExtractor()
	data := x.CompletionData(model.RunRecord{RunID: "run-1"})
	require.Equal(t, model.UnknownCompletionData(), data)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "plain", Stringify("plain"))
	assert.Equal(t, `{"a":1}`, Stringify(map[string]any{"a": 1}))
}

func TestNormalizeKeyVariants(t *testing.T) {
	for _, k := range []string{"payment_link", "paymentLink", "Payment Link", "PAYMENT-LINK"} {
		assert.Equal(t, "paymentlink", normalizeKey(k))
	}
}
