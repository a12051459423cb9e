package certwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultBootstrapURL is the IANA RDAP DNS bootstrap registry.
	DefaultBootstrapURL = "https://data.iana.org/rdap/dns.json"

	bootstrapTTL     = 24 * time.Hour
	bootstrapTimeout = 30 * time.Second
	rdapTimeout      = 15 * time.Second
)

// DomainInfo is the registration data extracted from an RDAP response.
type DomainInfo struct {
	Domain       string     `json:"domain"`
	CreationDate *time.Time `json:"creationDate,omitempty"`
	UpdatedDate  *time.Time `json:"updatedDate,omitempty"`
	ExpiryDate   *time.Time `json:"expiryDate,omitempty"`
	Registrar    string     `json:"registrar,omitempty"`
}

type bootstrapFile struct {
	Services [][2][]string `json:"services"`
}

// RDAPClient looks up domain registration data, caching the IANA bootstrap
// file so repeated lookups within the TTL never refetch it.
type RDAPClient struct {
	httpClient   *http.Client
	bootstrapURL string

	mu        sync.Mutex
	services  [][2][]string
	fetchedAt time.Time
	now       func() time.Time
}

// NewRDAPClient creates an RDAP client against the IANA bootstrap registry.
func NewRDAPClient() *RDAPClient {
	return &RDAPClient{
		httpClient:   &http.Client{},
		bootstrapURL: DefaultBootstrapURL,
		now:          time.Now,
	}
}

// Lookup fetches registration events and the registrar for a root domain.
func (c *RDAPClient) Lookup(ctx context.Context, domainName string) (*DomainInfo, error) {
	base, err := c.baseURL(ctx, tld(domainName))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, rdapTimeout)
	defer cancel()

	reqURL := strings.TrimSuffix(base, "/") + "/domain/" + domainName
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build rdap request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rdap lookup %s: %w", domainName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rdap lookup %s: status %d", domainName, resp.StatusCode)
	}

	var payload struct {
		Events []struct {
			EventAction string    `json:"eventAction"`
			EventDate   time.Time `json:"eventDate"`
		} `json:"events"`
		Entities []struct {
			Roles      []string `json:"roles"`
			VcardArray []any    `json:"vcardArray"`
		} `json:"entities"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode rdap response: %w", err)
	}

	info := &DomainInfo{Domain: domainName}
	for _, ev := range payload.Events {
		date := ev.EventDate
		switch strings.ToLower(ev.EventAction) {
		case "registration":
			info.CreationDate = &date
		case "last changed", "last updated":
			info.UpdatedDate = &date
		case "expiration":
			info.ExpiryDate = &date
		}
	}

	for _, entity := range payload.Entities {
		if !hasRole(entity.Roles, "registrar") {
			continue
		}
		if name := vcardFullName(entity.VcardArray); name != "" {
			info.Registrar = name
			break
		}
	}

	return info, nil
}

// baseURL resolves the RDAP service for a TLD via the cached bootstrap file.
func (c *RDAPClient) baseURL(ctx context.Context, topLevel string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.services == nil || c.now().Sub(c.fetchedAt) > bootstrapTTL {
		if err := c.refreshBootstrap(ctx); err != nil {
			return "", err
		}
	}

	for _, svc := range c.services {
		for _, t := range svc[0] {
			if strings.EqualFold(t, topLevel) && len(svc[1]) > 0 {
				return svc[1][0], nil
			}
		}
	}

	return "", fmt.Errorf("no rdap service for tld %q", topLevel)
}

func (c *RDAPClient) refreshBootstrap(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.bootstrapURL, nil)
	if err != nil {
		return fmt.Errorf("build bootstrap request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch rdap bootstrap: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch rdap bootstrap: status %d", resp.StatusCode)
	}

	var file bootstrapFile
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return fmt.Errorf("decode rdap bootstrap: %w", err)
	}

	c.services = file.Services
	c.fetchedAt = c.now()
	return nil
}

// RootDomain reduces a hostname to its registrable root, naively keeping the
// last two labels.
func RootDomain(host string) string {
	labels := strings.Split(strings.TrimSuffix(host, "."), ".")
	if len(labels) <= 2 {
		return strings.Join(labels, ".")
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

func tld(domainName string) string {
	labels := strings.Split(domainName, ".")
	return labels[len(labels)-1]
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if strings.EqualFold(r, want) {
			return true
		}
	}
	return false
}

// vcardFullName digs the "fn" property out of a jCard array.
func vcardFullName(vcard []any) string {
	if len(vcard) < 2 {
		return ""
	}
	props, ok := vcard[1].([]any)
	if !ok {
		return ""
	}

	for _, raw := range props {
		prop, ok := raw.([]any)
		if !ok || len(prop) < 4 {
			continue
		}
		name, ok := prop[0].(string)
		if !ok || name != "fn" {
			continue
		}
		if value, ok := prop[3].(string); ok {
			return value
		}
	}
	return ""
}
