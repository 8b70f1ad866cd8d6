// Copyright 2025 The RestFlow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tools

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// blockedV4Ranges are the IPv4 ranges outbound requests must never
// reach: loopback, private, link-local (incl. 169.254.169.254 metadata),
// CGNAT, broadcast, documentation, multicast and reserved space.
var blockedV4Ranges = []string{
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"192.88.99.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"255.255.255.255/32",
}

// blockedV6Ranges are the IPv6 analogues: loopback, unspecified,
// unique-local, link-local, multicast and documentation space.
var blockedV6Ranges = []string{
	"::1/128",
	"::/128",
	"fc00::/7",
	"fe80::/10",
	"ff00::/8",
	"2001:db8::/32",
}

var blockedNets []*net.IPNet

func init() {
	for _, cidr := range append(blockedV4Ranges, blockedV6Ranges...) {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid blocked CIDR %q: %v", cidr, err))
		}
		blockedNets = append(blockedNets, ipnet)
	}
}

// ValidateURL enforces the outbound-request policy shared by the HTTP
// tool and the HTTP node: only http/https schemes, no localhost
// aliases, no loopback/private/link-local/reserved addresses.
func ValidateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch parsed.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("URL scheme %q is not allowed (only http and https)", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("URL has no host")
	}
	switch strings.ToLower(host) {
	case "localhost", "0.0.0.0", "::1":
		return fmt.Errorf("requests to %s are not allowed", host)
	}

	// Literal IPs are checked directly; hostnames are only checked when
	// they resolve to a literal here — DNS-based checks happen at dial
	// time by the same rule set.
	if ip := net.ParseIP(host); ip != nil {
		if err := checkIP(ip); err != nil {
			return err
		}
	}
	return nil
}

// checkIP rejects addresses inside any blocked range.
func checkIP(ip net.IP) error {
	for _, ipnet := range blockedNets {
		if ipnet.Contains(ip) {
			return fmt.Errorf("requests to %s are not allowed (restricted address range)", ip)
		}
	}
	return nil
}
