package main

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/gomitmproxy"
	"github.com/AdguardTeam/gomitmproxy/mitm"
	"github.com/AdguardTeam/reqfilter"
	"github.com/AdguardTeam/reqfilter/config"
	"github.com/AdguardTeam/reqfilter/httpapi"
	"github.com/AdguardTeam/reqfilter/proxy"
	"github.com/AdguardTeam/reqfilter/rulesource"
	"github.com/AdguardTeam/reqfilter/storage"
	goFlags "github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

// shutdownTimeout is the timeout for shutting down the services.
const shutdownTimeout = 10 * time.Second

// Options -- console arguments.  Non-empty values override the ones from the
// configuration file.
type Options struct {
	// ConfigPath is the path to the YAML configuration file.
	ConfigPath string `short:"C" long:"config" description:"Path to the YAML configuration file (optional)."`

	// Verbose - should we write debug-level log
	Verbose bool `short:"v" long:"verbose" description:"Verbose output (optional)." optional:"yes" optional-value:"true"`

	// LogOutput - path to the log file
	LogOutput string `short:"o" long:"output" description:"Path to the log file. If not set, it writes to stderr."`

	// ListenAddr - server listen address
	ListenAddr string `short:"l" long:"listen" description:"Proxy listen address."`

	// ListenPort - server listen port
	ListenPort int `short:"p" long:"port" description:"Proxy listen port."`

	// TLSCertPath - path to the .crt with the certificate chain
	TLSCertPath string `short:"c" long:"ca-cert" description:"Path to a file with the root certificate."`

	// TLSKeyPath - path to the file with the private key
	TLSKeyPath string `short:"k" long:"ca-key" description:"Path to a file with the CA private key."`

	// Proxy username
	ProxyUser string `short:"u" long:"username" description:"Proxy auth username. If specified, proxy authorization is required."`

	// ProxyPassword - proxy password
	ProxyPassword string `short:"a" long:"password" description:"Proxy auth password. If specified, proxy authorization is required."`

	// HTTPSProxy - if specified, start a HTTPS proxy. Otherwise, it will start an HTTP proxy.
	HTTPSProxy bool `short:"t" long:"https" description:"Run an HTTPS proxy (otherwise, it runs plain HTTP proxy)." optional:"yes" optional-value:"true"`

	// HTTPSHostname - server name for the HTTPS proxy.
	HTTPSHostname string `short:"n" long:"https-name" description:"Server name or IP address of the HTTPS proxy."`

	// APIAddr - command API listen address
	APIAddr string `long:"api" description:"Command API listen address, host:port."`

	// StatePath - path to the persisted state
	StatePath string `short:"s" long:"state" description:"Path to the state file."`

	// RulesFile - path to the default rules
	RulesFile string `short:"f" long:"rules" description:"Path to the default rule configuration."`

	// RulesURL - URL of the default rules
	RulesURL string `long:"rules-url" description:"URL of the default rule configuration."`
}

func main() {
	var options Options
	var parser = goFlags.NewParser(&options, goFlags.Default)

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*goFlags.Error); ok && flagsErr.Type == goFlags.ErrHelp {
			os.Exit(0)
		} else {
			os.Exit(1)
		}
	}

	err = run(options)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "reqfilter: %s\n", err)

		os.Exit(1)
	}
}

// run runs the service until it receives a termination signal.
func run(options Options) (err error) {
	conf, err := loadConfig(options)
	if err != nil {
		return err
	}

	logOutput, err := newLogOutput(conf.Log)
	if err != nil {
		return err
	}
	defer func() { err = errors.WithDeferred(err, logOutput.Close()) }()

	l := newLogger(conf.Log, logOutput)

	st, err := newStorage(conf.Storage)
	if err != nil {
		return err
	}

	pipeline := reqfilter.New(&reqfilter.Config{
		Logger:    l.With(slogutil.KeyPrefix, "pipeline"),
		Storage:   st,
		Source:    newRuleSource(conf.Rules),
		CacheSize: conf.CacheSize,
	})

	proxyConf, err := newProxyConfig(conf.Proxy)
	if err != nil {
		return err
	}

	services := []service.Interface{
		pipeline,
		proxy.NewServer(&proxy.Config{
			Logger:      l.With(slogutil.KeyPrefix, "proxy"),
			Handler:     pipeline,
			ProxyConfig: proxyConf,
		}),
	}

	if conf.API.ListenAddr != "" {
		services = append(services, httpapi.New(&httpapi.Config{
			Logger:  l.With(slogutil.KeyPrefix, "api"),
			Filter:  pipeline,
			Addr:    conf.API.ListenAddr,
			Timeout: conf.API.Timeout,
		}))
	}

	ctx := context.Background()
	l.InfoContext(ctx, "starting")

	started, err := startAll(ctx, services)
	if err != nil {
		return errors.Join(err, shutdownAll(started))
	}

	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalChannel

	l.InfoContext(ctx, "shutting down", "signal", sig)

	return shutdownAll(services)
}

// loadConfig loads the configuration file and applies the options to it.
func loadConfig(options Options) (conf *config.Config, err error) {
	conf, err = config.Load(options.ConfigPath)
	if err != nil {
		return nil, err
	}

	if options.Verbose {
		conf.Log.Verbose = true
	}

	setIfNotEmpty(&conf.Log.Output, options.LogOutput)
	setIfNotEmpty(&conf.Proxy.CACert, options.TLSCertPath)
	setIfNotEmpty(&conf.Proxy.CAKey, options.TLSKeyPath)
	setIfNotEmpty(&conf.Proxy.Username, options.ProxyUser)
	setIfNotEmpty(&conf.Proxy.Password, options.ProxyPassword)
	setIfNotEmpty(&conf.Proxy.HTTPSName, options.HTTPSHostname)
	setIfNotEmpty(&conf.API.ListenAddr, options.APIAddr)
	setIfNotEmpty(&conf.Storage.Path, options.StatePath)

	if options.HTTPSProxy {
		conf.Proxy.HTTPS = true
	}

	if options.ListenAddr != "" || options.ListenPort != 0 {
		conf.Proxy.ListenAddr, err = overrideAddr(conf.Proxy.ListenAddr, options.ListenAddr, options.ListenPort)
		if err != nil {
			return nil, err
		}
	}

	if options.RulesFile != "" || options.RulesURL != "" {
		conf.Rules.File, conf.Rules.URL = options.RulesFile, options.RulesURL
	}

	err = conf.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating options: %w", err)
	}

	return conf, nil
}

// setIfNotEmpty sets *dst to val if val is not empty.
func setIfNotEmpty(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

// overrideAddr replaces the host and the port of addr with the non-empty ones.
func overrideAddr(addr, host string, port int) (res string, err error) {
	origHost, origPort, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("parsing proxy address: %w", err)
	}

	if host == "" {
		host = origHost
	}

	portStr := origPort
	if port != 0 {
		portStr = fmt.Sprint(port)
	}

	return net.JoinHostPort(host, portStr), nil
}

// nopCloser is an [io.WriteCloser] with a no-op Close.
type nopCloser struct {
	io.Writer
}

// Close implements the [io.Closer] interface for nopCloser.
func (nopCloser) Close() (err error) { return nil }

// newLogOutput returns the log output.  Log files are rotated.
func newLogOutput(c config.LogConfig) (w io.WriteCloser, err error) {
	if c.Output == "" {
		return nopCloser{Writer: os.Stderr}, nil
	}

	lj := &lumberjack.Logger{
		Filename:   c.Output,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
	}

	// Write the first line to make sure that the file is writable.
	_, err = lj.Write([]byte("\n"))
	if err != nil {
		return nil, fmt.Errorf("cannot create a log file: %w", err)
	}

	return lj, nil
}

// newLogger returns a new logger writing to w.
func newLogger(c config.LogConfig, w io.Writer) (l *slog.Logger) {
	lvl := slog.LevelInfo
	if c.Verbose {
		lvl = slog.LevelDebug
	}

	format := slogutil.FormatText
	if c.Format == config.LogFormatJSON {
		format = slogutil.FormatJSON
	}

	return slogutil.New(&slogutil.Config{
		Output:       w,
		Format:       format,
		AddTimestamp: true,
		Level:        lvl,
	})
}

// newStorage returns the persisted state storage.
func newStorage(c config.StorageConfig) (s storage.Interface, err error) {
	if c.Path == "" {
		return storage.NewMemory(), nil
	}

	f, err := storage.NewFile(c.Path)
	if err != nil {
		return nil, fmt.Errorf("opening state: %w", err)
	}

	return f, nil
}

// newRuleSource returns the source of the default rules.
func newRuleSource(c config.RulesConfig) (src rulesource.Interface) {
	switch {
	case c.File != "":
		return &rulesource.File{Path: c.File}
	case c.URL != "":
		return rulesource.NewURL(&rulesource.URLConfig{
			URL:     c.URL,
			Timeout: c.Timeout,
		})
	default:
		return rulesource.Bundled{}
	}
}

// startAll starts services in order.  started are the services that have been
// started successfully.
func startAll(
	ctx context.Context,
	services []service.Interface,
) (started []service.Interface, err error) {
	for _, s := range services {
		err = s.Start(ctx)
		if err != nil {
			return started, fmt.Errorf("starting %T: %w", s, err)
		}

		started = append(started, s)
	}

	return started, nil
}

// shutdownAll shuts services down in two stages.  The first service is the
// filtering pipeline and the rest are the sources of requests and commands.
// The sources are shut down concurrently first, so that the pipeline persists
// everything they have counted.
func shutdownAll(services []service.Interface) (err error) {
	if len(services) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	g := &errgroup.Group{}
	for _, s := range services[1:] {
		g.Go(func() (shutdownErr error) {
			return shutdownService(ctx, s)
		})
	}

	return errors.Join(g.Wait(), shutdownService(ctx, services[0]))
}

// shutdownService shuts s down and annotates the error, if any.
func shutdownService(ctx context.Context, s service.Interface) (err error) {
	err = s.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutting down %T: %w", s, err)
	}

	return nil
}

// newProxyConfig returns the MITM proxy configuration.
func newProxyConfig(c config.ProxyConfig) (pc gomitmproxy.Config, err error) {
	addr, err := net.ResolveTCPAddr("tcp", c.ListenAddr)
	if err != nil {
		return pc, fmt.Errorf("parsing proxy address: %w", err)
	}

	pc = gomitmproxy.Config{
		ListenAddr: addr,

		Username: c.Username,
		Password: c.Password,
		APIHost:  c.APIHost,

		MITMExceptions: c.MITMExceptions,
	}

	if c.CACert == "" {
		return pc, nil
	}

	mitmConfig, err := createMITMConfig(c.CACert, c.CAKey)
	if err != nil {
		return pc, err
	}

	pc.MITMConfig = mitmConfig

	if c.HTTPS {
		proxyCert, certErr := mitmConfig.GetOrCreateCert(c.HTTPSName)
		if certErr != nil {
			return pc, fmt.Errorf("generating https proxy certificate for %s: %w", c.HTTPSName, certErr)
		}

		pc.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{*proxyCert},
			ServerName:   c.HTTPSName,
		}
	}

	return pc, nil
}

// createMITMConfig loads the root CA and creates the MITM configuration.
func createMITMConfig(certPath, keyPath string) (mitmConfig *mitm.Config, err error) {
	tlsCert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("loading root ca: %w", err)
	}

	privateKey, ok := tlsCert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("root ca key: unsupported type %T", tlsCert.PrivateKey)
	}

	x509c, err := x509.ParseCertificate(tlsCert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("invalid certificate: %w", err)
	}

	mitmConfig, err = mitm.NewConfig(x509c, privateKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating mitm config: %w", err)
	}

	// Generate certs valid for 7 days.
	mitmConfig.SetValidity(time.Hour * 24 * 7)
	mitmConfig.SetOrganization("reqfilter")

	return mitmConfig, nil
}
