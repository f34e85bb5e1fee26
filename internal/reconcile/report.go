package reconcile

import (
	"fmt"
	"strings"
)

// colorIndicator maps an occupancy percentage to the traffic-light emoji the
// admins read at a glance.
func colorIndicator(percentage float64) string {
	switch {
	case percentage < 70:
		return "🟢"
	case percentage < 90:
		return "🟠"
	default:
		return "🔴"
	}
}

func formatCleanupReport(report *CleanupReport) string {
	var b strings.Builder
	b.WriteString("🧹 *ORPHANED DEVICE CLEANUP*\n\n")
	fmt.Fprintf(&b, "Total deleted: %d\n\n", report.TotalDeleted)
	for _, server := range report.Servers {
		if server.Deleted == 0 {
			continue
		}
		fmt.Fprintf(&b, "🖥️ *%s*: %d deleted\n", server.ServerName, server.Deleted)
		for _, device := range server.Devices {
			fmt.Fprintf(&b, "   • %s", device.Name)
			if device.AppName != "" {
				fmt.Fprintf(&b, " (%s)", device.AppName)
			}
			if device.Reason != "" {
				fmt.Fprintf(&b, " - %s", device.Reason)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatLimitsReport(report *LimitsReport) string {
	var b strings.Builder
	b.WriteString("📱 *DEVICE LIMIT ENFORCEMENT*\n\n")
	fmt.Fprintf(&b, "Users checked: %d\n", report.UsersChecked)
	fmt.Fprintf(&b, "Devices removed: %d\n\n", report.DevicesRemoved)
	for _, server := range report.Servers {
		if server.DevicesRemoved == 0 {
			continue
		}
		fmt.Fprintf(&b, "🖥️ *%s* (%s): %d removed\n", server.ServerName, server.Service, server.DevicesRemoved)
		for _, user := range server.Users {
			fmt.Fprintf(&b, "   👤 *%s* (plan %s, limit %d, had %d):\n", user.Username, user.Plan, user.Limit, user.TotalDevices)
			for _, device := range user.Removed {
				fmt.Fprintf(&b, "      • %s", device.Name)
				if device.AppName != "" {
					fmt.Fprintf(&b, " (%s)", device.AppName)
				}
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatStatusReport(report *StatusReport) string {
	var b strings.Builder
	b.WriteString("📊 *PERIODIC SERVER STATUS REPORT*\n\n")
	lastService := ""
	for _, server := range report.Servers {
		if server.Service != lastService {
			fmt.Fprintf(&b, "*%s SERVERS:*\n", server.Service)
			lastService = server.Service
		}
		onlineStatus := "❌ OFFLINE"
		if server.Online {
			onlineStatus = "✅ ONLINE"
		}
		fmt.Fprintf(&b, "%s %s\n", onlineStatus, server.ServerName)
		fmt.Fprintf(&b, "   🌐 URL: %s\n", server.Url)
		fmt.Fprintf(&b, "   %s Users: %d/%d (%.1f%%)\n", colorIndicator(server.UsersPercentage()), server.Users, server.MaxUsers, server.UsersPercentage())
		fmt.Fprintf(&b, "   📱 Active sessions: %d\n\n", server.ActiveSessions)
	}
	if len(report.Servers) == 0 {
		b.WriteString("No active servers configured\n")
	}
	return b.String()
}
