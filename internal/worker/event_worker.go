package worker

import (
	"github.com/spec-kit/clip-service/internal/service"
)

// StartEventWorker registers identity lifecycle event handlers.
func StartEventWorker(notifier *service.NotifierService) {
	if notifier == nil {
		return
	}
	notifier.RegisterHandlers()
}
