package logging

import "fmt"

// GenerateLogrotateConfig creates a logrotate configuration for a component
func GenerateLogrotateConfig(component string) string {
	return fmt.Sprintf(`# Logrotate configuration for phoenix-oracle %[1]s
# Install: sudo cp this file to /etc/logrotate.d/phoenix-oracle-%[1]s

%[2]s/%[1]s/*.log {
    daily
    rotate 14
    compress
    delaycompress
    missingok
    notifempty
    create 0644 oracle oracle
    sharedscripts
    postrotate
        systemctl reload phoenix-%[1]s 2>/dev/null || true
    endscript
}
`, component, DefaultLogDir)
}
