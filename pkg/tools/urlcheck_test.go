package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateURLAccepts(t *testing.T) {
	for _, url := range []string{
		"http://8.8.8.8/",
		"https://example.com/",
		"https://api.github.com/repos",
		"http://93.184.216.34/path?q=1",
	} {
		assert.NoError(t, ValidateURL(url), url)
	}
}

func TestValidateURLRejects(t *testing.T) {
	for _, url := range []string{
		"http://127.0.0.1/",
		"http://localhost/",
		"http://localhost:8080/admin",
		"http://0.0.0.0/",
		"http://10.0.0.1/",
		"http://172.16.5.5/",
		"http://192.168.1.1/",
		"http://169.254.169.254/latest/meta-data/",
		"http://100.64.0.1/",
		"http://192.0.2.1/",
		"http://198.51.100.7/",
		"http://203.0.113.9/",
		"http://224.0.0.1/",
		"http://255.255.255.255/",
		"http://[::1]/",
		"http://[fe80::1]/",
		"http://[fc00::1]/",
		"http://[2001:db8::1]/",
		"file:///etc/passwd",
		"ftp://example.com/",
		"gopher://example.com/",
	} {
		assert.Error(t, ValidateURL(url), url)
	}
}
