package provider

import (
	"strings"

	"github.com/luastore/ms-go-checkout/app/types"
)

// kindByToken maps every provider-native status and event name the
// adapters know about to its canonical kind. Lookups are trimmed and
// lowercased; anything absent from the table is Unknown, never an
// error, so a provider adding vocabulary does not break ingestion.
var kindByToken = map[string]types.EventKind{
	// paid
	"paid":          types.EventKindPaid,
	"pago":          types.EventKindPaid,
	"approved":      types.EventKindPaid,
	"aprovado":      types.EventKindPaid,
	"confirmed":     types.EventKindPaid,
	"completed":     types.EventKindPaid,
	"concluida":     types.EventKindPaid,
	"billing.paid":  types.EventKindPaid,
	"pix.received":  types.EventKindPaid,
	"charge.paid":   types.EventKindPaid,
	"payment.paid":  types.EventKindPaid,
	"liquidado":     types.EventKindPaid,
	"settled":       types.EventKindPaid,

	// pending
	"pending":          types.EventKindPending,
	"pendente":         types.EventKindPending,
	"waiting":          types.EventKindPending,
	"aguardando":       types.EventKindPending,
	"waiting_payment":  types.EventKindPending,
	"processing":       types.EventKindPending,
	"em_processamento": types.EventKindPending,
	"in_analysis":      types.EventKindPending,
	"created":          types.EventKindPending,
	"active":           types.EventKindPending,
	"ativa":            types.EventKindPending,
	"billing.created":  types.EventKindPending,
	"payment.pending":  types.EventKindPending,

	// cancelled
	"cancelled":                        types.EventKindCancelled,
	"canceled":                         types.EventKindCancelled,
	"cancelado":                        types.EventKindCancelled,
	"cancelada":                        types.EventKindCancelled,
	"expired":                          types.EventKindCancelled,
	"expirado":                         types.EventKindCancelled,
	"voided":                           types.EventKindCancelled,
	"refunded":                         types.EventKindCancelled,
	"devolvido":                        types.EventKindCancelled,
	"removida_pelo_usuario_recebedor":  types.EventKindCancelled,
	"removida_pelo_psp":                types.EventKindCancelled,
	"billing.cancelled":                types.EventKindCancelled,
	"billing.expired":                  types.EventKindCancelled,
	"payment.cancelled":                types.EventKindCancelled,

	// failed
	"failed":          types.EventKindFailed,
	"falhou":          types.EventKindFailed,
	"denied":          types.EventKindFailed,
	"negado":          types.EventKindFailed,
	"declined":        types.EventKindFailed,
	"error":           types.EventKindFailed,
	"erro":            types.EventKindFailed,
	"rejected":        types.EventKindFailed,
	"recusado":        types.EventKindFailed,
	"recusada":        types.EventKindFailed,
	"nao_realizado":   types.EventKindFailed,
	"billing.failed":  types.EventKindFailed,
	"payment.failed":  types.EventKindFailed,
}

// kindForToken normalizes a provider status or event name. A dotted
// event name whose full form is unmapped falls back to its last
// segment, so "charge.confirmed" still resolves through "confirmed".
func kindForToken(token string) types.EventKind {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return types.EventKindUnknown
	}
	if kind, ok := kindByToken[token]; ok {
		return kind
	}
	if idx := strings.LastIndex(token, "."); idx >= 0 {
		if kind, ok := kindByToken[token[idx+1:]]; ok {
			return kind
		}
	}
	return types.EventKindUnknown
}
