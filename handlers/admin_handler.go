package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/reactfasttraining/course_booking/jobs"
	"github.com/reactfasttraining/course_booking/middleware"
	"github.com/reactfasttraining/course_booking/payments"
	"github.com/sirupsen/logrus"
)

type RecoveryRunner interface {
	RunOnce(ctx context.Context) (jobs.RecoveryReport, error)
}

type BreakerInspector interface {
	Snapshot() payments.BreakerSnapshot
}

type AdminHandler struct {
	recovery RecoveryRunner
	breaker  BreakerInspector
	log      logrus.FieldLogger
}

func NewAdminHandler(recovery RecoveryRunner, breaker BreakerInspector, log logrus.FieldLogger) *AdminHandler {
	return &AdminHandler{recovery: recovery, breaker: breaker, log: log}
}

// RunRecovery triggers a recovery pass outside the schedule. It honours
// the breaker like a scheduled run does.
func (h *AdminHandler) RunRecovery(c *fiber.Ctx) error {
	h.log.WithField("admin", middleware.Subject(c)).Info("manual payment recovery requested")

	report, err := h.recovery.RunOnce(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "success", "data": report})
}

func (h *AdminHandler) BreakerStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "success", "data": h.breaker.Snapshot()})
}
