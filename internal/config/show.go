package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved settings as TOML-like text with the
// application secret masked. It backs the "config show" command.
func RenderEffective(s Settings, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration\n\n")
	ew.printf("tenant_id            = %q\n", s.TenantID)
	ew.printf("app_id               = %q\n", s.AppID)
	ew.printf("app_secret           = %q\n", maskSecret(s.AppSecret))
	ew.printf("resource_url         = %q\n", s.ResourceURL)
	ew.printf("api_version          = %q\n", s.APIVersion)
	ew.printf("max_retries          = %d\n", s.MaxRetries)

	if len(s.SharePointHosts) > 0 {
		ew.printf("sharepoint_hosts     = [%s]\n", joinQuoted(s.SharePointHosts))
	}

	ew.printf("\nlarge_file_threshold = %d\n", s.LargeFileThreshold)
	ew.printf("chunk_size           = %d\n", s.ChunkSize)
	ew.printf("bandwidth_limit      = %q\n", s.BandwidthLimit)
	ew.printf("parallel_transfers   = %d\n", s.ParallelTransfers)
	ew.printf("session_db           = %q\n", s.SessionDB)
	ew.printf("\nlog_level            = %q\n", s.LogLevel)
	ew.printf("log_format           = %q\n", s.LogFormat)
	ew.printf("\nconnect_timeout      = %q\n", s.ConnectTimeout)
	ew.printf("data_timeout         = %q\n", s.DataTimeout)
	ew.printf("idle_timeout         = %q\n", s.IdleTimeout)

	return ew.err
}

// errWriter keeps the first write error so a run of printf calls needs a
// single check at the end.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}

	return strings.Join(quoted, ", ")
}
