// Package alerts turns SoH estimates into maintenance decisions and delivers
// warning decisions to webhook targets (Teams, Slack, or generic HTTP).
package alerts
