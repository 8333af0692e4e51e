package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/racephoto/internal/ingest"
)

const maxNotificationBytes = 1 << 20

// ObjectTrigger enqueues pipeline runs for stored objects.
type ObjectTrigger interface {
	Handle(ctx context.Context, objs []ingest.ObjectCreated) ingest.Report
}

type HookHandler struct {
	trigger ObjectTrigger
}

func NewHookHandler(trigger ObjectTrigger) *HookHandler {
	return &HookHandler{trigger: trigger}
}

// ObjectCreated handles POST /v1/hooks/object-created. It answers 500 when
// any object could not be enqueued so the sender retries the notification;
// re-enqueuing the others is harmless.
func (h *HookHandler) ObjectCreated(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxNotificationBytes))
	if err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "failed to read body")
		return
	}

	objs, err := ingest.ParseNotification(body)
	if err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "body is not an object-created notification")
		return
	}

	report := h.trigger.Handle(c.Request.Context(), objs)
	status := http.StatusOK
	if len(report.Failures) > 0 {
		status = http.StatusInternalServerError
	}
	c.JSON(status, report)
}
