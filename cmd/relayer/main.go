package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/yukia3e/invite-tier-relayer/internal/config"
	"github.com/yukia3e/invite-tier-relayer/internal/domain/model"
	"github.com/yukia3e/invite-tier-relayer/internal/domain/repository"
	"github.com/yukia3e/invite-tier-relayer/internal/infrastructure/contract"
	infrahttp "github.com/yukia3e/invite-tier-relayer/internal/infrastructure/http"
	"github.com/yukia3e/invite-tier-relayer/internal/infrastructure/wallet"
	"github.com/yukia3e/invite-tier-relayer/internal/interfaces/handler"
	"github.com/yukia3e/invite-tier-relayer/internal/metrics"
	"github.com/yukia3e/invite-tier-relayer/internal/usecase/relay"
	"github.com/yukia3e/invite-tier-relayer/internal/util"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		util.SetupLogger("info", true)
		log.Fatal().Err(err).Msg("main: invalid configuration")
	}
	util.SetupLogger(cfg.LogLevel, !cfg.IsProduction())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("main: relayer stopped")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.RPCTimeout)
	ethClient, err := ethclient.DialContext(dialCtx, cfg.RPCEndpoint)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: failed to dial RPC endpoint: %v", config.ErrStartupConfig, err)
	}
	defer ethClient.Close()

	chainCtx, cancel := context.WithTimeout(ctx, cfg.RPCTimeout)
	nodeChainID, err := ethClient.ChainID(chainCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: failed to read chain id: %v", config.ErrStartupConfig, err)
	}
	if nodeChainID.Cmp(cfg.ChainID) != 0 {
		return fmt.Errorf("%w: CHAIN_ID is %s but the RPC endpoint serves chain %s", config.ErrStartupConfig, cfg.ChainID, nodeChainID)
	}

	signer, closeSigner, err := newTransactionSigner(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSigner()

	fees := contract.NewRPCFeeOracle(ethClient, cfg.RPCTimeout)
	if cfg.FeeSource == config.FeeSourceGasStation {
		gasStation := infrahttp.NewGasStationClient(&http.Client{Timeout: cfg.RPCTimeout}, cfg.GasStationURL)
		fees = contract.NewGasStationFeeOracle(gasStation, repository.ParseTransactionPriorityType(cfg.GasPriority), fees, cfg.RPCTimeout)
	}

	inviteTierRepo := contract.NewInviteTierClient(ethClient, signer, fees, contract.Config{
		Address:          cfg.ContractAddress,
		ChainID:          cfg.ChainID,
		GasMode:          cfg.GasMode,
		GasLimit:         cfg.GasLimit,
		GasBufferPercent: cfg.GasBufferPercent,
		RPCTimeout:       cfg.RPCTimeout,
	})

	domain := model.SigningDomain{
		Name:              cfg.DomainName,
		Version:           cfg.DomainVersion,
		ChainID:           cfg.ChainID,
		VerifyingContract: cfg.ContractAddress,
	}
	relayService := relay.NewService(inviteTierRepo, domain, relay.Options{SerializeSigner: cfg.SerializeSigner})

	m := metrics.New()
	m.SetInfo(signer.Address().Hex(), cfg.ChainID.String())

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handler.NewRouter(handler.New(relayService, m, handler.Options{
		ExposeCause: !cfg.IsProduction(),
		Relayer:     signer.Address(),
	}))

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("relayer", signer.Address().Hex()).
			Str("contract", cfg.ContractAddress.Hex()).
			Str("chainId", cfg.ChainID.String()).
			Str("env", cfg.Environment).
			Msg("main: relayer listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("main: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newTransactionSigner(ctx context.Context, cfg *config.Config) (repository.TransactionSigner, func(), error) {
	if cfg.Signer != config.SignerKMS {
		signer, err := wallet.NewLocalSigner(cfg.RelayerPrivateKey)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", config.ErrStartupConfig, err)
		}
		return signer, func() {}, nil
	}

	kmsClient, err := wallet.NewKMSClient(ctx, cfg.KMS.CredentialFilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", config.ErrStartupConfig, err)
	}
	keyRing := wallet.KeyRing{
		ProjectID: cfg.KMS.ProjectID,
		Location:  cfg.KMS.Location,
		KeyRingID: cfg.KMS.KeyRingID,
	}
	signer, err := wallet.NewKMSSigner(ctx, kmsClient, keyRing, cfg.KMS.KeyID, cfg.KMS.KeyVersion)
	if err != nil {
		kmsClient.Close()
		return nil, nil, fmt.Errorf("%w: %v", config.ErrStartupConfig, err)
	}
	return signer, func() {
		if err := kmsClient.Close(); err != nil {
			log.Error().Err(err).Msg("main: failed to close KMS client")
		}
	}, nil
}
