package client

import "github.com/pesio-ai/be-procurement-approvals/internal/service"

var (
	_ service.ProjectRegistry     = (*ProjectsClient)(nil)
	_ service.NotificationService = (*NotificationPublisher)(nil)
)
