package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	backend      string
	canIf        string
	serialDev    string
	baud         int
	serialReadTO time.Duration
	cnlRemote    string
	handshakeTO  time.Duration
	browseTO     time.Duration

	address  int
	priority int
	pgn      int
	dst      int
	data     string

	claim        bool
	identity     int
	manufacturer int
	devFunction  int
	devClass     int

	product     bool
	modelID     string
	swVersion   string
	serialCode  string
	productCode int

	repeat        time.Duration
	sendTO        time.Duration
	txRetries     int
	retryDelay    time.Duration
	maxEvictions  int
	exactPackets  bool
	dump          bool
	monitor       bool
	handlerBuffer int
	handlerPolicy string

	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	backend := flag.String("backend", "socketcan", "CAN backend: socketcan|serial|cannelloni|virtual")
	canIf := flag.String("can-if", "can0", "SocketCAN interface (when --backend=socketcan)")
	serialDev := flag.String("serial", "/dev/ttyUSB0", "Serial device path")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	serialReadTO := flag.Duration("serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	cnlRemote := flag.String("cnl-remote", "", "Cannelloni gateway host:port; empty browses mDNS")
	handshakeTO := flag.Duration("handshake-timeout", 3*time.Second, "Gateway handshake timeout")
	browseTO := flag.Duration("mdns-browse-timeout", 3*time.Second, "mDNS gateway browse timeout")
	address := flag.Int("address", 254, "Node source address (254 = null address)")
	priority := flag.Int("priority", 6, "Message priority 0..7")
	pgn := flag.Int("pgn", -1, "PGN to send; negative disables")
	dst := flag.Int("dst", 255, "Destination address for PDU1 PGNs (255 = global)")
	data := flag.String("data", "", "Message payload as hex")
	claim := flag.Bool("claim", false, "Send an address claim (PGN 60928) on start")
	identity := flag.Int("identity", 1, "NAME identity number")
	manufacturer := flag.Int("manufacturer", 2046, "NAME manufacturer code")
	devFunction := flag.Int("device-function", 130, "NAME device function")
	devClass := flag.Int("device-class", 25, "NAME device class")
	product := flag.Bool("product", false, "Send product information (PGN 126996) on start")
	modelID := flag.String("model-id", "n2k-node", "Product model id")
	swVersion := flag.String("software-version", version, "Product software version")
	serialCode := flag.String("serial-code", "0000001", "Product serial code")
	productCode := flag.Int("product-code", 1, "Product code")
	repeat := flag.Duration("repeat", 0, "If >0, resend the message at this interval")
	sendTO := flag.Duration("send-timeout", time.Second, "Per-message send timeout")
	txRetries := flag.Int("tx-retries", 100, "Would-block retries per frame")
	retryDelay := flag.Duration("retry-delay", 100*time.Microsecond, "Initial would-block back-off")
	maxEvictions := flag.Int("max-evictions", 64, "Evicted frames resubmitted per frame")
	exactPackets := flag.Bool("exact-packet-count", false, "Announce ceil(len/7) BAM packets instead of len/7+1")
	dump := flag.Bool("dump", false, "Print outgoing frames")
	monitor := flag.Bool("monitor", false, "Print received messages until interrupted")
	handlerBuf := flag.Int("handler-buffer", 256, "Per-handler queue (messages)")
	handlerPolicy := flag.String("handler-policy", "drop", "Backpressure policy: drop|kick")
	logFormat := flag.String("log-format", "text", "Log format: text|json|tint")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.backend = *backend
	cfg.canIf = *canIf
	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.serialReadTO = *serialReadTO
	cfg.cnlRemote = *cnlRemote
	cfg.handshakeTO = *handshakeTO
	cfg.browseTO = *browseTO
	cfg.address = *address
	cfg.priority = *priority
	cfg.pgn = *pgn
	cfg.dst = *dst
	cfg.data = *data
	cfg.claim = *claim
	cfg.identity = *identity
	cfg.manufacturer = *manufacturer
	cfg.devFunction = *devFunction
	cfg.devClass = *devClass
	cfg.product = *product
	cfg.modelID = *modelID
	cfg.swVersion = *swVersion
	cfg.serialCode = *serialCode
	cfg.productCode = *productCode
	cfg.repeat = *repeat
	cfg.sendTO = *sendTO
	cfg.txRetries = *txRetries
	cfg.retryDelay = *retryDelay
	cfg.maxEvictions = *maxEvictions
	cfg.exactPackets = *exactPackets
	cfg.dump = *dump
	cfg.monitor = *monitor
	cfg.handlerBuffer = *handlerBuf
	cfg.handlerPolicy = *handlerPolicy
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate checks values and ranges only; it opens nothing.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json", "tint":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "socketcan", "serial", "cannelloni", "virtual":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	switch c.handlerPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid handler-policy: %s", c.handlerPolicy)
	}
	if c.handlerBuffer <= 0 {
		return fmt.Errorf("handler-buffer must be > 0 (got %d)", c.handlerBuffer)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.browseTO <= 0 {
		return fmt.Errorf("mdns-browse-timeout must be > 0")
	}
	if c.address < 0 || c.address > 255 {
		return fmt.Errorf("address must be 0..255 (got %d)", c.address)
	}
	if c.priority < 0 || c.priority > 7 {
		return fmt.Errorf("priority must be 0..7 (got %d)", c.priority)
	}
	if c.pgn > 0x3FFFF {
		return fmt.Errorf("pgn must be <= 0x3FFFF (got %d)", c.pgn)
	}
	if c.dst < 0 || c.dst > 255 {
		return fmt.Errorf("dst must be 0..255 (got %d)", c.dst)
	}
	if _, err := c.payload(); err != nil {
		return err
	}
	if c.sendTO <= 0 {
		return fmt.Errorf("send-timeout must be > 0")
	}
	if c.repeat < 0 {
		return fmt.Errorf("repeat must be >= 0")
	}
	if c.txRetries <= 0 {
		return fmt.Errorf("tx-retries must be > 0 (got %d)", c.txRetries)
	}
	if c.retryDelay <= 0 {
		return fmt.Errorf("retry-delay must be > 0")
	}
	if c.maxEvictions < 0 {
		return fmt.Errorf("max-evictions must be >= 0")
	}
	if c.identity < 0 || c.manufacturer < 0 || c.devFunction < 0 || c.devClass < 0 || c.productCode < 0 {
		return fmt.Errorf("NAME and product fields must be >= 0")
	}
	return nil
}

// payload decodes the hex data flag; spaces and colons are ignored.
func (c *appConfig) payload() ([]byte, error) {
	s := strings.NewReplacer(" ", "", ":", "").Replace(c.data)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	return b, nil
}

// applyEnvOverrides maps N2K_NODE_* environment variables to config fields
// unless the corresponding flag was set explicitly. Empty values are ignored.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(flagName, key string) (string, bool) {
		if _, ok := set[flagName]; ok {
			return "", false
		}
		v, ok := os.LookupEnv(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	str := func(flagName, key string, dst *string) {
		if v, ok := get(flagName, key); ok {
			*dst = v
		}
	}
	num := func(flagName, key string, lo int, dst *int) {
		if v, ok := get(flagName, key); ok {
			if n, err := strconv.Atoi(v); err == nil && n >= lo {
				*dst = n
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %q", key, v)
			}
		}
	}
	dur := func(flagName, key string, dst *time.Duration) {
		if v, ok := get(flagName, key); ok {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				*dst = d
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %q", key, v)
			}
		}
	}
	boolean := func(flagName, key string, dst *bool) {
		if v, ok := get(flagName, key); ok {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			}
		}
	}

	str("backend", "N2K_NODE_BACKEND", &c.backend)
	str("can-if", "N2K_NODE_IF", &c.canIf)
	str("serial", "N2K_NODE_SERIAL", &c.serialDev)
	num("baud", "N2K_NODE_BAUD", 1, &c.baud)
	dur("serial-read-timeout", "N2K_NODE_SERIAL_READ_TIMEOUT", &c.serialReadTO)
	str("cnl-remote", "N2K_NODE_CNL_REMOTE", &c.cnlRemote)
	dur("handshake-timeout", "N2K_NODE_HANDSHAKE_TIMEOUT", &c.handshakeTO)
	dur("mdns-browse-timeout", "N2K_NODE_MDNS_BROWSE_TIMEOUT", &c.browseTO)
	num("address", "N2K_NODE_ADDRESS", 0, &c.address)
	num("priority", "N2K_NODE_PRIORITY", 0, &c.priority)
	num("pgn", "N2K_NODE_PGN", 0, &c.pgn)
	num("dst", "N2K_NODE_DST", 0, &c.dst)
	str("data", "N2K_NODE_DATA", &c.data)
	boolean("claim", "N2K_NODE_CLAIM", &c.claim)
	num("identity", "N2K_NODE_IDENTITY", 0, &c.identity)
	num("manufacturer", "N2K_NODE_MANUFACTURER", 0, &c.manufacturer)
	boolean("product", "N2K_NODE_PRODUCT", &c.product)
	str("model-id", "N2K_NODE_MODEL_ID", &c.modelID)
	str("serial-code", "N2K_NODE_SERIAL_CODE", &c.serialCode)
	dur("repeat", "N2K_NODE_REPEAT", &c.repeat)
	dur("send-timeout", "N2K_NODE_SEND_TIMEOUT", &c.sendTO)
	num("tx-retries", "N2K_NODE_TX_RETRIES", 1, &c.txRetries)
	dur("retry-delay", "N2K_NODE_RETRY_DELAY", &c.retryDelay)
	num("max-evictions", "N2K_NODE_MAX_EVICTIONS", 0, &c.maxEvictions)
	boolean("exact-packet-count", "N2K_NODE_EXACT_PACKET_COUNT", &c.exactPackets)
	boolean("monitor", "N2K_NODE_MONITOR", &c.monitor)
	num("handler-buffer", "N2K_NODE_HANDLER_BUFFER", 1, &c.handlerBuffer)
	str("handler-policy", "N2K_NODE_HANDLER_POLICY", &c.handlerPolicy)
	str("log-format", "N2K_NODE_LOG_FORMAT", &c.logFormat)
	str("log-level", "N2K_NODE_LOG_LEVEL", &c.logLevel)
	dur("log-metrics-interval", "N2K_NODE_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := os.LookupEnv("N2K_NODE_METRICS"); ok {
			c.metricsAddr = strings.TrimSpace(v)
		}
	}
	return firstErr
}
