package main

import systemdDaemon "github.com/coreos/go-systemd/v22/daemon"

// notifyReady sends a message to the host when the server is ready to accept connections.
func notifyReady() {
	_, _ = systemdDaemon.SdNotify(false, systemdDaemon.SdNotifyReady)
}

// notifyStopping sends a message to the host when the server is stopping.
func notifyStopping() {
	_, _ = systemdDaemon.SdNotify(false, systemdDaemon.SdNotifyStopping)
}
