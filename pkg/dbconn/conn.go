package dbconn

import (
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	customTLSConfigName   = "custom"
	requiredTLSConfigName = "required"
	verifyCATLSConfigName = "verify_ca"
	verifyIDTLSConfigName = "verify_identity"
	maxConnLifetime       = time.Minute * 3
	maxIdleConns          = 10
)

// rdsAddr matches Amazon RDS hostnames with optional :port suffix, for
// IsRDSHost. newDSN does not consult it: RDS hosts get the same TLS
// handling as any other host.
// The leading \. ensures only legitimate *.rds.amazonaws.com subdomains
// match, preventing subdomain spoofing (e.g., fake-rds.amazonaws.com).
var (
	rdsAddr      = regexp.MustCompile(`\.rds\.amazonaws\.com(:\d+)?$`)
	registerOnce sync.Map
)

func IsRDSHost(host string) bool {
	return rdsAddr.MatchString(host)
}

// LoadCertificateFromFile loads certificate data from a file.
func LoadCertificateFromFile(filePath string) ([]byte, error) {
	return os.ReadFile(filePath)
}

// newCustomTLSConfig builds a tls.Config for the given mode. When
// certPath is empty it falls back to the host's system certificate pool,
// which is sufficient for RDS and most managed-MySQL hosts since their
// certificates chain to a public root. Operators who terminate TLS with a
// private CA must supply TLSCertificatePath.
func newCustomTLSConfig(mode, certPath string) (*tls.Config, error) {
	var pool *x509.CertPool
	if certPath != "" {
		certData, err := LoadCertificateFromFile(certPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		pool = x509.NewCertPool()
		if !pool.AppendCertsFromPEM(certData) {
			return nil, fmt.Errorf("no certificates found in %s", certPath)
		}
	}

	switch strings.ToUpper(mode) {
	case "DISABLED":
		return nil, nil
	case "PREFERRED", "REQUIRED":
		// Encryption only; we don't fail the connection over an
		// unverifiable certificate since the caller will retry without
		// TLS in PREFERRED mode anyway, and REQUIRED just wants the wire
		// encrypted.
		return &tls.Config{
			RootCAs:            pool,
			InsecureSkipVerify: true,
		}, nil
	case "VERIFY_CA":
		if pool == nil {
			return nil, fmt.Errorf("VERIFY_CA requires TLSCertificatePath")
		}
		return &tls.Config{
			RootCAs: pool,
			// Skip the default verifier (which also checks hostname) and
			// verify only the chain below.
			InsecureSkipVerify: true,
			VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
				if len(rawCerts) == 0 {
					return fmt.Errorf("no certificates provided")
				}
				var certs []*x509.Certificate
				for _, raw := range rawCerts {
					cert, err := x509.ParseCertificate(raw)
					if err != nil {
						return fmt.Errorf("failed to parse certificate: %w", err)
					}
					certs = append(certs, cert)
				}
				intermediates := x509.NewCertPool()
				for _, cert := range certs[1:] {
					intermediates.AddCert(cert)
				}
				_, err := certs[0].Verify(x509.VerifyOptions{
					Roots:         pool,
					Intermediates: intermediates,
				})
				if err != nil {
					return fmt.Errorf("certificate verification failed: %w", err)
				}
				return nil
			},
		}, nil
	case "VERIFY_IDENTITY":
		return &tls.Config{RootCAs: pool}, nil
	default:
		return &tls.Config{RootCAs: pool, InsecureSkipVerify: true}, nil
	}
}

// getTLSConfigName returns the name a mode's TLS config is registered
// under with the driver.
func getTLSConfigName(mode string) string {
	switch strings.ToUpper(mode) {
	case "DISABLED":
		return ""
	case "REQUIRED":
		return requiredTLSConfigName
	case "VERIFY_CA":
		return verifyCATLSConfigName
	case "VERIFY_IDENTITY":
		return verifyIDTLSConfigName
	default:
		return customTLSConfigName
	}
}

// registerTLSConfig registers (once per mode+cert combination) the named
// TLS config with the mysql driver.
func registerTLSConfig(mode, certPath string) (string, error) {
	name := getTLSConfigName(mode)
	if name == "" {
		return "", nil
	}
	cacheKey := name + "|" + certPath
	if _, done := registerOnce.LoadOrStore(cacheKey, struct{}{}); done {
		return name, nil
	}
	tlsConfig, err := newCustomTLSConfig(mode, certPath)
	if err != nil {
		registerOnce.Delete(cacheKey)
		return "", err
	}
	if tlsConfig == nil {
		return "", nil
	}
	if err := mysql.RegisterTLSConfig(name, tlsConfig); err != nil && !strings.Contains(err.Error(), "already registered") {
		registerOnce.Delete(cacheKey)
		return "", err
	}
	return name, nil
}

// newDSN returns a new DSN to be used to connect to MySQL. It accepts a
// DSN as input and appends TLS and session configuration based on config,
// unless the caller's DSN already specifies an explicit tls parameter, in
// which case the DSN is returned unchanged.
func newDSN(dsn string, config *DBConfig) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	if cfg.TLSConfig != "" {
		return dsn, nil
	}

	if cfg.TLSConfig == "" && strings.ToUpper(config.TLSMode) != "DISABLED" {
		name, err := registerTLSConfig(config.TLSMode, config.TLSCertificatePath)
		if err != nil {
			return "", err
		}
		cfg.TLSConfig = name
	}

	// Set session variables via Params map.
	// Setting sql_mode looks ill-advised, but unfortunately it's required.
	// A user might have set their SQL mode to empty even if the server has
	// it enabled; after they've inserted data we need to produce the same
	// when copying. mysqldump and friends do the same thing.
	if cfg.Params == nil {
		cfg.Params = make(map[string]string)
	}
	cfg.Params["sql_mode"] = `""`
	cfg.Params["time_zone"] = `"+00:00"`
	cfg.Params["innodb_lock_wait_timeout"] = strconv.Itoa(config.InnodbLockWaitTimeout)
	cfg.Params["lock_wait_timeout"] = strconv.Itoa(config.LockWaitTimeout)
	cfg.Params["range_optimizer_max_mem_size"] = strconv.FormatInt(config.RangeOptimizerMaxMemSize, 10)
	cfg.Params["transaction_isolation"] = `"read-committed"`
	// go driver charset option, sets character_set_client, _connection, _results
	cfg.Params["charset"] = "utf8mb4"

	cfg.Collation = "utf8mb4_bin"
	// So we recycle the connection if we inadvertently connect to an old
	// primary that is now a read-only replica. Observed during blue/green
	// upgrades and failover on AWS Aurora.
	cfg.RejectReadOnly = true
	cfg.InterpolateParams = config.InterpolateParams
	cfg.AllowNativePasswords = true
	// Allow cleartext password auth only when TLS is configured, which is
	// safe because the wire is encrypted.
	cfg.AllowCleartextPasswords = cfg.TLSConfig != ""

	return cfg.FormatDSN(), nil
}

// New is similar to sql.Open except we take the inputDSN and append
// additional options to it to standardize the connection. It also pings
// the connection to ensure it is valid.
func New(inputDSN string, config *DBConfig) (db *sql.DB, err error) {
	return NewWithConnectionType(inputDSN, config, "main database")
}

// NewWithConnectionType is like New but includes context about the
// connection type for clearer error messages when the dial fails.
func NewWithConnectionType(inputDSN string, config *DBConfig, connectionType string) (db *sql.DB, err error) {
	dsn, err := newDSN(inputDSN, config)
	if err != nil {
		return nil, err
	}
	defer func() {
		if db != nil && err == nil {
			db.SetMaxOpenConns(config.MaxOpenConnections)
			db.SetConnMaxLifetime(maxConnLifetime)
			db.SetMaxIdleConns(maxIdleConns)
		}
	}()

	if strings.ToUpper(config.TLSMode) == "PREFERRED" {
		// Try with TLS first.
		db, err := sql.Open("mysql", dsn)
		if err == nil {
			//nolint: noctx // requires too much refactoring
			if err := db.Ping(); err == nil {
				return db, nil
			}
			_ = db.Close()
		}

		// TLS failed to negotiate; retry with TLS disabled rather than
		// failing outright, since PREFERRED only asks for encryption
		// when available.
		configCopy := *config
		configCopy.TLSMode = "DISABLED"
		fallbackDSN, err := newDSN(inputDSN, &configCopy)
		if err != nil {
			return nil, fmt.Errorf("failed to build fallback DSN for %s connection: %w", connectionType, err)
		}
		db, err = sql.Open("mysql", fallbackDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open fallback %s connection: %w", connectionType, err)
		}
		//nolint: noctx // requires too much refactoring
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("[%s-CONNECTION-FALLBACK] ping failed: %w", strings.ToUpper(strings.ReplaceAll(connectionType, " ", "-")), err)
		}
		return db, nil
	}

	db, err = sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", connectionType, err)
	}
	//nolint: noctx // requires too much refactoring
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("[%s-CONNECTION] ping failed: %w", strings.ToUpper(strings.ReplaceAll(connectionType, " ", "-")), err)
	}
	return db, nil
}

// GetTLSConfigForBinlog builds a tls.Config for the replication (binlog)
// connection using the same mode/certificate logic as New, since canal
// opens its own connection outside of database/sql.
func GetTLSConfigForBinlog(config *DBConfig, host string) (*tls.Config, error) {
	if config == nil || strings.ToUpper(config.TLSMode) == "DISABLED" {
		return nil, nil
	}
	tlsConfig, err := newCustomTLSConfig(config.TLSMode, config.TLSCertificatePath)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil && tlsConfig.RootCAs != nil {
		tlsConfig.ServerName = host
	}
	return tlsConfig, nil
}
