/*
Package tls builds the HTTPS configuration for the access server.

# Server Configuration

	tlsConfig, reloader, err := tls.Build(cfg.Server.TLS, logger)
	if err != nil {
		return err
	}
	defer reloader.Close()

Build loads and validates the key pair, applies server.tls.min_version and
cipher_suites, and configures client certificate verification when
client_ca_file is set.

# Certificate Reload

With server.tls.reload the returned Reloader watches the certificate
directories with fsnotify and swaps in a renewed pair on write, create or
rename. A pair that fails to load or validate is logged and the previous
certificate stays in use. Without reload the Reloader serves the pair
loaded at startup.
*/
package tls
