// Package notify delivers customer-facing order notifications. The log
// mailer is the default sink until an SMTP or transactional-email
// integration is configured.
package notify

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/luastore/ms-go-checkout/app/entity"
	"github.com/luastore/ms-go-checkout/app/factory"
	"github.com/luastore/ms-go-checkout/app/money"
)

type LogMailer struct {
	logger logrus.FieldLogger
}

func NewLogMailer() *LogMailer {
	return &LogMailer{logger: factory.NewModuleLogger("mailer")}
}

func (m *LogMailer) OrderPaid(_ context.Context, order *entity.Order) error {
	m.logger.WithFields(logrus.Fields{
		"order_id":  order.ID,
		"order_ref": order.OrderRef,
		"email":     order.CustomerEmail,
		"amount":    money.FormatBRL(order.AmountCents),
	}).Info("payment confirmation email")
	return nil
}

func (m *LogMailer) OrderCancelled(_ context.Context, order *entity.Order) error {
	m.logger.WithFields(logrus.Fields{
		"order_id":  order.ID,
		"order_ref": order.OrderRef,
		"email":     order.CustomerEmail,
	}).Info("order cancellation email")
	return nil
}
