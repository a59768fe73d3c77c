package recovery

var troubleshooting = map[ErrorType][]string{
	NetworkTimeout: {
		"Check that the host is online and reachable (ping <host>)",
		"Verify that a firewall is not dropping traffic to the SSH port",
		"Increase the connect timeout for slow or distant networks",
		"Check your VPN or proxy connection if the host is on a private network",
	},
	ConnectionRefused: {
		"Verify that the SSH daemon is running on the remote host (systemctl status sshd)",
		"Check that the configured port matches the SSH daemon's port",
		"Check that a firewall is not rejecting connections on that port",
		"Confirm that the host allows connections from your address",
	},
	HostUnreachable: {
		"Check your network connection",
		"Verify the host address is correct",
		"Check routing and VPN configuration for the target network",
		"Confirm the host is powered on and attached to the network",
	},
	DNSResolutionFailed: {
		"Check the host name for typos",
		"Verify that your DNS servers are reachable (nslookup <host>)",
		"Try connecting with the IP address instead of the host name",
		"Check /etc/hosts or your VPN's DNS settings for private names",
	},
	AuthenticationFailed: {
		"Verify the username is correct",
		"Check that the chosen authentication method is enabled on the server",
		"Confirm your credentials have not expired or been rotated",
		"Review the server's auth log (/var/log/auth.log) for the rejection reason",
	},
	PermissionDenied: {
		"Verify the username has login rights on the remote host",
		"Check that your public key is in ~/.ssh/authorized_keys on the server",
		"Check permissions on ~/.ssh (700) and authorized_keys (600) on the server",
		"Check AllowUsers/DenyUsers settings in the server's sshd_config",
	},
	KeyRejected: {
		"Verify the private key path is correct",
		"Check that the matching public key is installed on the server",
		"Confirm the key passphrase is correct",
		"Check that the server accepts the key type (ed25519, rsa, ecdsa)",
	},
	PasswordRejected: {
		"Check the password for typos and keyboard layout issues",
		"Verify that password authentication is enabled on the server",
		"Confirm the account is not locked after repeated failures",
		"Reset the password if it has expired",
	},
	ProtocolError: {
		"Check that the server speaks SSH on the configured port",
		"Verify the client and server share a supported key exchange and cipher",
		"Look for middleboxes that intercept or rewrite SSH traffic",
		"Retry the connection; transient handshake failures are common under load",
	},
	ConfigurationError: {
		"Check that host and username are set",
		"Verify the port is between 1 and 65535",
		"Provide the credential required by the chosen authentication method",
		"Review the server profile in the configuration file",
	},
	Unknown: {
		"Retry the connection",
		"Check the network connection to the host",
		"Review the logs for the underlying error",
		"Verify the server profile configuration",
	},
}

// TroubleshootingSteps returns a copy of the four steps for t.
func TroubleshootingSteps(t ErrorType) []string {
	steps, ok := troubleshooting[t]
	if !ok {
		steps = troubleshooting[Unknown]
	}
	return append([]string(nil), steps...)
}
