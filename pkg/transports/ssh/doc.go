// Package ssh implements the device transport for Linux hosts reachable over
// SSH.
//
// Full configuration documents are uploaded over SFTP to a staging directory
// and then applied interface by interface with ip(8). Targeted enable and
// disable pushes skip the upload and reuse the addresses recorded from the
// last full push. Interfaces are never set administratively down; a disabled
// interface only loses its global addresses, so its link state remains
// observable through /sys/class/net/<name>/operstate.
//
// Example usage:
//
//	cfg, err := ssh.FromDevice(device)
//	if err != nil {
//	    return err
//	}
//	tr, err := ssh.New(cfg)
//	if err != nil {
//	    return err
//	}
//	if err := tr.Connect(ctx); err != nil {
//	    return err
//	}
//	defer tr.Disconnect()
package ssh
