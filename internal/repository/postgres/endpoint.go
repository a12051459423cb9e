package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/zateckar/monitor-sub001/internal/domain"
	"github.com/zateckar/monitor-sub001/pkg/database"
	apperrors "github.com/zateckar/monitor-sub001/pkg/errors"
)

// EndpointRepository implements repository.EndpointRepository using PostgreSQL.
type EndpointRepository struct {
	pool database.DBTX
}

// NewEndpointRepository creates a new PostgreSQL-backed endpoint repository.
func NewEndpointRepository(pool database.DBTX) *EndpointRepository {
	return &EndpointRepository{pool: pool}
}

const endpointColumns = `id, name, type, url, heartbeat_interval_seconds, retries,
	upside_down, paused, retries_failed, status, last_checked,
	http_method, http_headers, http_body, ok_http_statuses, keyword_search,
	check_cert_expiry, cert_expiry_threshold_days, tcp_port,
	kafka_topic, kafka_message, kafka_config, kafka_consumer_auto_commit, kafka_consumer_single_shot,
	client_cert, client_key, ca_cert, created_at, updated_at`

// boolToInt converts a boolean to the 0/1 integer representation used by the
// schema.
func boolToInt(b bool) int16 {
	if b {
		return 1
	}
	return 0
}

// Create inserts a new endpoint and assigns its ID.
func (r *EndpointRepository) Create(ctx context.Context, e *domain.Endpoint) error {
	headersJSON, statusesJSON, kafkaCfgJSON, err := marshalEndpointJSON(e)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.Status == "" {
		e.Status = domain.StatusUnknown
	}

	query := `
		INSERT INTO endpoints (name, type, url, heartbeat_interval_seconds, retries,
			upside_down, paused, retries_failed, status, last_checked,
			http_method, http_headers, http_body, ok_http_statuses, keyword_search,
			check_cert_expiry, cert_expiry_threshold_days, tcp_port,
			kafka_topic, kafka_message, kafka_config, kafka_consumer_auto_commit, kafka_consumer_single_shot,
			client_cert, client_key, ca_cert, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)
		RETURNING id`

	err = r.pool.QueryRow(ctx, query,
		e.Name, e.Type, e.URL, e.HeartbeatIntervalSeconds, e.Retries,
		boolToInt(e.UpsideDown), boolToInt(e.Paused), e.RetriesFailed, e.Status, e.LastChecked,
		e.HTTPMethod, headersJSON, e.HTTPBody, statusesJSON, e.KeywordSearch,
		boolToInt(e.CheckCertExpiry), e.CertExpiryThresholdDays, e.TCPPort,
		e.KafkaTopic, e.KafkaMessage, kafkaCfgJSON,
		boolToInt(e.KafkaConsumerAutoCommit), boolToInt(e.KafkaConsumerSingleShot),
		e.ClientCertPEM, e.ClientKeyPEM, e.CACertPEM, e.CreatedAt, e.UpdatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert endpoint: %w", err)
	}

	return nil
}

// Upsert inserts or updates an endpoint keeping its upstream-assigned ID.
// Used on dependents when reconciling configuration fetched from the
// primary; local probe state (status, retries_failed, last_checked) is
// preserved on update.
func (r *EndpointRepository) Upsert(ctx context.Context, e *domain.Endpoint) error {
	headersJSON, statusesJSON, kafkaCfgJSON, err := marshalEndpointJSON(e)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.Status == "" {
		e.Status = domain.StatusUnknown
	}

	query := `
		INSERT INTO endpoints (id, name, type, url, heartbeat_interval_seconds, retries,
			upside_down, paused, retries_failed, status, last_checked,
			http_method, http_headers, http_body, ok_http_statuses, keyword_search,
			check_cert_expiry, cert_expiry_threshold_days, tcp_port,
			kafka_topic, kafka_message, kafka_config, kafka_consumer_auto_commit, kafka_consumer_single_shot,
			client_cert, client_key, ca_cert, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, type = EXCLUDED.type, url = EXCLUDED.url,
			heartbeat_interval_seconds = EXCLUDED.heartbeat_interval_seconds,
			retries = EXCLUDED.retries, upside_down = EXCLUDED.upside_down, paused = EXCLUDED.paused,
			http_method = EXCLUDED.http_method, http_headers = EXCLUDED.http_headers,
			http_body = EXCLUDED.http_body, ok_http_statuses = EXCLUDED.ok_http_statuses,
			keyword_search = EXCLUDED.keyword_search,
			check_cert_expiry = EXCLUDED.check_cert_expiry,
			cert_expiry_threshold_days = EXCLUDED.cert_expiry_threshold_days,
			tcp_port = EXCLUDED.tcp_port,
			kafka_topic = EXCLUDED.kafka_topic, kafka_message = EXCLUDED.kafka_message,
			kafka_config = EXCLUDED.kafka_config,
			kafka_consumer_auto_commit = EXCLUDED.kafka_consumer_auto_commit,
			kafka_consumer_single_shot = EXCLUDED.kafka_consumer_single_shot,
			client_cert = EXCLUDED.client_cert, client_key = EXCLUDED.client_key,
			ca_cert = EXCLUDED.ca_cert, updated_at = EXCLUDED.updated_at`

	_, err = r.pool.Exec(ctx, query,
		e.ID, e.Name, e.Type, e.URL, e.HeartbeatIntervalSeconds, e.Retries,
		boolToInt(e.UpsideDown), boolToInt(e.Paused), e.RetriesFailed, e.Status, e.LastChecked,
		e.HTTPMethod, headersJSON, e.HTTPBody, statusesJSON, e.KeywordSearch,
		boolToInt(e.CheckCertExpiry), e.CertExpiryThresholdDays, e.TCPPort,
		e.KafkaTopic, e.KafkaMessage, kafkaCfgJSON,
		boolToInt(e.KafkaConsumerAutoCommit), boolToInt(e.KafkaConsumerSingleShot),
		e.ClientCertPEM, e.ClientKeyPEM, e.CACertPEM, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert endpoint: %w", err)
	}
	return nil
}

// DeleteMissing removes endpoints whose IDs are not in keep. An empty keep
// removes everything, matching a primary with no endpoints left.
func (r *EndpointRepository) DeleteMissing(ctx context.Context, keep []int64) (int64, error) {
	if keep == nil {
		keep = []int64{}
	}
	ct, err := r.pool.Exec(ctx, `DELETE FROM endpoints WHERE NOT (id = ANY($1))`, keep)
	if err != nil {
		return 0, fmt.Errorf("delete missing endpoints: %w", err)
	}
	return ct.RowsAffected(), nil
}

// GetByID retrieves an endpoint by its unique identifier.
func (r *EndpointRepository) GetByID(ctx context.Context, id int64) (*domain.Endpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM endpoints WHERE id = $1`

	row := r.pool.QueryRow(ctx, query, id)
	e, err := scanEndpoint(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("endpoint", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("get endpoint: %w", err)
	}
	return e, nil
}

// List returns all endpoints ordered by ID.
func (r *EndpointRepository) List(ctx context.Context) ([]domain.Endpoint, error) {
	return r.list(ctx, `SELECT `+endpointColumns+` FROM endpoints ORDER BY id`)
}

// ListActive returns all non-paused endpoints ordered by ID.
func (r *EndpointRepository) ListActive(ctx context.Context) ([]domain.Endpoint, error) {
	return r.list(ctx, `SELECT `+endpointColumns+` FROM endpoints WHERE paused = 0 ORDER BY id`)
}

func (r *EndpointRepository) list(ctx context.Context, query string) ([]domain.Endpoint, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []domain.Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		endpoints = append(endpoints, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate endpoints: %w", err)
	}
	return endpoints, nil
}

// Update replaces the endpoint's mutable configuration.
func (r *EndpointRepository) Update(ctx context.Context, e *domain.Endpoint) error {
	headersJSON, statusesJSON, kafkaCfgJSON, err := marshalEndpointJSON(e)
	if err != nil {
		return err
	}

	e.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE endpoints
		SET name = $1, type = $2, url = $3, heartbeat_interval_seconds = $4, retries = $5,
		    upside_down = $6, paused = $7,
		    http_method = $8, http_headers = $9, http_body = $10, ok_http_statuses = $11, keyword_search = $12,
		    check_cert_expiry = $13, cert_expiry_threshold_days = $14, tcp_port = $15,
		    kafka_topic = $16, kafka_message = $17, kafka_config = $18,
		    kafka_consumer_auto_commit = $19, kafka_consumer_single_shot = $20,
		    client_cert = $21, client_key = $22, ca_cert = $23, updated_at = $24
		WHERE id = $25`

	ct, err := r.pool.Exec(ctx, query,
		e.Name, e.Type, e.URL, e.HeartbeatIntervalSeconds, e.Retries,
		boolToInt(e.UpsideDown), boolToInt(e.Paused),
		e.HTTPMethod, headersJSON, e.HTTPBody, statusesJSON, e.KeywordSearch,
		boolToInt(e.CheckCertExpiry), e.CertExpiryThresholdDays, e.TCPPort,
		e.KafkaTopic, e.KafkaMessage, kafkaCfgJSON,
		boolToInt(e.KafkaConsumerAutoCommit), boolToInt(e.KafkaConsumerSingleShot),
		e.ClientCertPEM, e.ClientKeyPEM, e.CACertPEM, e.UpdatedAt,
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("update endpoint: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("endpoint", strconv.FormatInt(e.ID, 10))
	}
	return nil
}

// UpdateRuntimeState persists the probe-derived fields only.
func (r *EndpointRepository) UpdateRuntimeState(ctx context.Context, id int64, status domain.Status, retriesFailed int, lastChecked time.Time) error {
	query := `
		UPDATE endpoints
		SET status = $1, retries_failed = $2, last_checked = $3, updated_at = $3
		WHERE id = $4`

	ct, err := r.pool.Exec(ctx, query, status, retriesFailed, lastChecked, id)
	if err != nil {
		return fmt.Errorf("update endpoint runtime state: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("endpoint", strconv.FormatInt(id, 10))
	}
	return nil
}

// Delete removes the endpoint.
func (r *EndpointRepository) Delete(ctx context.Context, id int64) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM endpoints WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("endpoint", strconv.FormatInt(id, 10))
	}
	return nil
}

func marshalEndpointJSON(e *domain.Endpoint) (headers, statuses, kafkaCfg []byte, err error) {
	if headers, err = json.Marshal(e.HTTPHeaders); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal http headers: %w", err)
	}
	if statuses, err = json.Marshal(e.OKHTTPStatuses); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal ok statuses: %w", err)
	}
	if kafkaCfg, err = json.Marshal(e.KafkaConfig); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal kafka config: %w", err)
	}
	return headers, statuses, kafkaCfg, nil
}

// scanEndpoint reads one endpoint row, normalizing 0/1 integers to booleans.
func scanEndpoint(row pgx.Row) (*domain.Endpoint, error) {
	var (
		e                                        domain.Endpoint
		upsideDown, paused, checkCert            int16
		autoCommit, singleShot                   int16
		headersJSON, statusesJSON, kafkaCfgJSON  []byte
	)

	err := row.Scan(
		&e.ID, &e.Name, &e.Type, &e.URL, &e.HeartbeatIntervalSeconds, &e.Retries,
		&upsideDown, &paused, &e.RetriesFailed, &e.Status, &e.LastChecked,
		&e.HTTPMethod, &headersJSON, &e.HTTPBody, &statusesJSON, &e.KeywordSearch,
		&checkCert, &e.CertExpiryThresholdDays, &e.TCPPort,
		&e.KafkaTopic, &e.KafkaMessage, &kafkaCfgJSON, &autoCommit, &singleShot,
		&e.ClientCertPEM, &e.ClientKeyPEM, &e.CACertPEM, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.UpsideDown = upsideDown != 0
	e.Paused = paused != 0
	e.CheckCertExpiry = checkCert != 0
	e.KafkaConsumerAutoCommit = autoCommit != 0
	e.KafkaConsumerSingleShot = singleShot != 0

	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &e.HTTPHeaders); err != nil {
			return nil, fmt.Errorf("unmarshal http headers: %w", err)
		}
	}
	if len(statusesJSON) > 0 {
		if err := json.Unmarshal(statusesJSON, &e.OKHTTPStatuses); err != nil {
			return nil, fmt.Errorf("unmarshal ok statuses: %w", err)
		}
	}
	if len(kafkaCfgJSON) > 0 {
		if err := json.Unmarshal(kafkaCfgJSON, &e.KafkaConfig); err != nil {
			return nil, fmt.Errorf("unmarshal kafka config: %w", err)
		}
	}

	return &e, nil
}
