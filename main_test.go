package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sponsorcoin/pkg/codec"
	"sponsorcoin/pkg/config"
	"sponsorcoin/pkg/models"
	"sponsorcoin/pkg/networks"
	"sponsorcoin/pkg/persist"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const walletAddress = "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, cfg config.Config) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, config.SaveConfig(cfg, path))
	return path
}

// newWalletNode answers the JSON-RPC calls the wallet and balance clients make.
func newWalletNode(t *testing.T, chainID string, accounts []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case "eth_chainId":
			resp["result"] = chainID
		case "eth_accounts":
			resp["result"] = accounts
		case "eth_getBalance":
			resp["result"] = "0xde0b6b3a7640000"
		default:
			resp["error"] = map[string]interface{}{"code": -32601, "message": "method not found"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newMetadataServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	return srv
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "sponsorcoin version dev\n", out)
}

func decodeState(t *testing.T, out string) map[string]interface{} {
	t.Helper()
	var doc struct {
		Version int                    `json:"version"`
		State   map[string]interface{} `json:"state"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc), out)
	assert.Equal(t, codec.SchemaVersion, doc.Version)
	return doc.State
}

func TestStateAndReset(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.StorePath = filepath.Join(dir, "state.json")
	path := writeConfig(t, cfg)

	// Fresh session: default network.
	out, err := execute(t, "state", "--config", path)
	require.NoError(t, err)
	network := decodeState(t, out)["network"].(map[string]interface{})
	assert.EqualValues(t, networks.DefaultChainID, network["appChainId"])
	_, err = os.Stat(cfg.StorePath)
	assert.True(t, os.IsNotExist(err), "state must not write")

	polygon := networks.DefaultTable().Default(137)
	polygon.Network.Connected = true
	polygon.Network.ChainID = 137
	data, err := codec.Serialize(polygon)
	require.NoError(t, err)
	require.NoError(t, persist.NewFileStore(cfg.StorePath).Save(context.Background(), data))

	out, err = execute(t, "state", "--config", path)
	require.NoError(t, err)
	state := decodeState(t, out)
	network = state["network"].(map[string]interface{})
	assert.EqualValues(t, 137, network["appChainId"])
	assert.Equal(t, false, network["connected"], "wallet status is never restored")
	assert.EqualValues(t, 0, network["chainId"])
	settings := state["settings"].(map[string]interface{})
	assert.Equal(t, true, settings["hydratedFromLocalStorage"])

	out, err = execute(t, "reset", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Persisted state cleared.")
	_, err = os.Stat(cfg.StorePath)
	assert.True(t, os.IsNotExist(err))

	out, err = execute(t, "state", "--config", path)
	require.NoError(t, err)
	network = decodeState(t, out)["network"].(map[string]interface{})
	assert.EqualValues(t, networks.DefaultChainID, network["appChainId"])
}

func TestResetRestore(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.StorePath = filepath.Join(dir, "state.json")
	path := writeConfig(t, cfg)

	fs := persist.NewFileStore(cfg.StorePath)
	for _, id := range []int64{137, 8453} {
		data, err := codec.Serialize(networks.DefaultTable().Default(id))
		require.NoError(t, err)
		require.NoError(t, fs.Save(context.Background(), data))
	}

	out, err := execute(t, "reset", "--restore", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Previous state restored.")

	out, err = execute(t, "state", "--config", path)
	require.NoError(t, err)
	network := decodeState(t, out)["network"].(map[string]interface{})
	assert.EqualValues(t, 137, network["appChainId"])
}

func TestResetRestore_NeedsFileBackend(t *testing.T) {
	cfg := config.Defaults()
	cfg.StoreBackend = config.BackendMemory
	path := writeConfig(t, cfg)

	_, err := execute(t, "reset", "--restore", "--config", path)
	assert.ErrorContains(t, err, "--restore needs")
}

func TestConfigInitAndRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration saved to")

	cfg, err := config.LoadConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.Defaults().WalletRPCURL, cfg.WalletRPCURL)

	cfg.ServerPort = 9999
	require.NoError(t, config.SaveConfig(cfg, path))

	_, err = execute(t, "config", "restore", "--config", path)
	require.NoError(t, err)
	cfg, err = config.LoadConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.ServerPort)
}

func TestCheckCmd(t *testing.T) {
	walletNode := newWalletNode(t, "0x89", nil)
	balanceNode := newWalletNode(t, "0x3e7", nil)
	meta := newMetadataServer(t)

	cfg := config.Defaults()
	cfg.WalletRPCURL = walletNode.URL
	cfg.BalanceRPCURL = balanceNode.URL
	cfg.MetadataURL = meta.URL
	path := writeConfig(t, cfg)

	out, err := execute(t, "check", "--json", "--config", path)
	require.NoError(t, err)

	var report checkReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.OK)
	assert.Equal(t, "ok", report.Wallet.Status)
	assert.EqualValues(t, 137, report.Wallet.ChainID)
	assert.True(t, report.Wallet.Supported)
	require.NotNil(t, report.Balance)
	assert.EqualValues(t, 999, report.Balance.ChainID)
	assert.False(t, report.Balance.Supported)
	assert.Equal(t, "reachable", report.Metadata.Status)
}

func TestCheckCmd_Failure(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()
	meta := newMetadataServer(t)

	cfg := config.Defaults()
	cfg.WalletRPCURL = deadURL
	cfg.MetadataURL = meta.URL
	path := writeConfig(t, cfg)

	out, err := execute(t, "check", "--config", path)
	assert.EqualError(t, err, "one or more checks failed")
	assert.Contains(t, out, "Wallet RPC: "+deadURL+" ... Failed")
}

func TestApp_FollowsWallet(t *testing.T) {
	walletNode := newWalletNode(t, "0x89", []string{walletAddress})
	meta := newMetadataServer(t)

	cfg := config.Defaults()
	cfg.WalletRPCURL = walletNode.URL
	cfg.MetadataURL = meta.URL
	cfg.StoreBackend = config.BackendMemory
	cfg.PollInterval = 1
	cfg.Accounts = []config.AccountConfig{
		{Address: "0x0000000000000000000000000000000000000001", Role: "Sponsor"},
		{Address: "0x0000000000000000000000000000000000000002", Role: "sponsor"},
		{Address: "0x0000000000000000000000000000000000000003", Role: "agent"},
	}

	a, err := newApp(cfg, zap.NewNop())
	require.NoError(t, err)
	a.start(context.Background())
	defer a.close()

	require.Eventually(t, func() bool {
		s := a.store.GetState()
		return s.Network.Connected && s.Network.ChainID == 137 &&
			s.Accounts.ActiveAccount != nil && len(s.Accounts.SponsorAccounts) == 2
	}, 5*time.Second, 20*time.Millisecond)

	s := a.store.GetState()
	// First connection of a fresh session adopts the wallet network.
	assert.EqualValues(t, 137, s.Network.AppChainID)
	assert.Equal(t, "Polygon", s.Network.Name)
	assert.True(t, models.SameAddress(walletAddress, s.Accounts.ActiveAccount.Address))
	assert.Len(t, s.Accounts.AgentAccounts, 1)
}

func TestNewApp_InvalidConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.StoreBackend = "redis"
	_, err := newApp(cfg, zap.NewNop())
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestConfiguredLists(t *testing.T) {
	lists := configuredLists([]config.AccountConfig{
		{Address: "0x1", Role: "Recipient"},
		{Address: "0x2", Role: "recipient"},
		{Address: "0x3", Role: "agent"},
	})
	assert.Equal(t, []string{"0x1", "0x2"}, lists[models.RoleRecipient])
	assert.Equal(t, []string{"0x3"}, lists[models.RoleAgent])
	assert.NotContains(t, lists, models.RoleSponsor)
}
