package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ddp/internal/config"
	"ddp/internal/errors"
)

func TestRun_MissingPrivateKeyFailsFast(t *testing.T) {
	for _, name := range []string{config.PrivateKeyEnv, config.PrefixedPrivateKeyEnv} {
		if original, ok := os.LookupEnv(name); ok {
			os.Unsetenv(name)
			t.Cleanup(func() { os.Setenv(name, original) })
		}
	}

	dir := t.TempDir()
	solc := filepath.Join(dir, "solc")
	marker := filepath.Join(dir, "invoked")
	require.NoError(t, os.WriteFile(solc, []byte("#!/bin/sh\ntouch "+marker+"\n"), 0755))

	configFile = filepath.Join(dir, "missing.yaml")
	solcPath = solc
	// 不可达的节点地址，若发生网络调用会得到非配置类错误
	rpcURL = "http://127.0.0.1:1"
	t.Cleanup(func() { configFile, solcPath, rpcURL = "configs/config.yaml", "", "" })

	err := run(nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), err.Error())

	var deployErr *errors.DeployError
	require.ErrorAs(t, err, &deployErr)
	assert.Equal(t, errors.CodeMissingPrivateKey, deployErr.Code)

	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "编译器不应被调用")
	assert.Equal(t, 1, errors.NewErrorHandler(logger).Handle(err))
}
