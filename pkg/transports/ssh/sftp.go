package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
)

const copyChunkSize = 32 * 1024

// Upload writes data to remotePath over SFTP, creating parent directories as
// needed. A zero mode leaves the server default in place.
func (c *Client) Upload(ctx context.Context, data []byte, remotePath string, mode os.FileMode) error {
	startTime := time.Now()

	sshClient, err := c.client()
	if err != nil {
		return err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return c.newError("upload", fmt.Errorf("failed to create SFTP client: %w", err), true)
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return c.newError("upload", fmt.Errorf("failed to create remote directory: %w", err), false)
	}

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return c.newError("upload", fmt.Errorf("failed to create remote file: %w", err), true)
	}
	defer remoteFile.Close()

	written, err := copyWithContext(ctx, remoteFile, bytes.NewReader(data))
	if err != nil {
		return c.newError("upload", fmt.Errorf("failed to copy file: %w", err), true)
	}

	if mode != 0 {
		if err := sftpClient.Chmod(remotePath, mode); err != nil {
			log.Warn().Err(err).Str("remote", remotePath).Msg("failed to set file permissions")
		}
	}

	log.Debug().
		Str("device", c.config.DeviceName()).
		Str("remote", remotePath).
		Int64("bytes", written).
		Dur("duration", time.Since(startTime)).
		Msg("file uploaded")

	return nil
}

// copyWithContext copies src to dst in chunks, checking ctx between them.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyChunkSize)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			w, err := dst.Write(buf[:n])
			written += int64(w)
			if err != nil {
				return written, err
			}
			if w != n {
				return written, io.ErrShortWrite
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}
