/*
 * @module service/access/access_service_test
 * @description 下载凭证服务单元测试，覆盖Key创建、验证、吊销与使用统计
 */
package access

import (
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"sensorhub-service/service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newAccessTestService(t *testing.T) *AccessService {
	tdb := models.NewModelTestDB()
	t.Cleanup(func() {
		tdb.Close()
	})
	return NewAccessService(tdb.DB)
}

func TestAccessService_CreateApiKey(t *testing.T) {
	service := newAccessTestService(t)

	key, fullKey, err := service.CreateApiKey("训练平台", "供外部训练方下载数据集", "admin", nil)
	require.NoError(t, err)
	require.NotNil(t, key)

	assert.Len(t, fullKey, 64)
	assert.Equal(t, fullKey[:8], key.KeyPrefix)
	assert.Equal(t, "active", key.Status)
	assert.Equal(t, "admin", key.CreatedBy)
	assert.NotEmpty(t, key.ID)

	// 库中只存哈希，且哈希可与明文比对通过
	assert.NotEqual(t, fullKey, key.KeyValueHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(key.KeyValueHash), []byte(fullKey)))
}

func TestAccessService_CreateApiKey_EmptyName(t *testing.T) {
	service := newAccessTestService(t)

	_, _, err := service.CreateApiKey("", "", "", nil)
	assert.Error(t, err)
}

func TestAccessService_VerifyApiKey(t *testing.T) {
	service := newAccessTestService(t)

	created, fullKey, err := service.CreateApiKey("验证测试", "", "", nil)
	require.NoError(t, err)

	verified, err := service.VerifyApiKey(fullKey)
	require.NoError(t, err)
	assert.Equal(t, created.ID, verified.ID)

	// 验证成功后更新使用统计
	reloaded, err := service.GetApiKeyByID(created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reloaded.UsageCount)
	assert.NotNil(t, reloaded.LastUsedAt)
}

func TestAccessService_VerifyApiKey_Invalid(t *testing.T) {
	service := newAccessTestService(t)

	_, fullKey, err := service.CreateApiKey("验证测试", "", "", nil)
	require.NoError(t, err)

	// 格式不合法
	_, err = service.VerifyApiKey("short")
	assert.EqualError(t, err, "无效的API Key格式")

	// 前缀正确但完整Key不匹配
	forged := fullKey[:8] + strings.Repeat("0", 56)
	_, err = service.VerifyApiKey(forged)
	assert.EqualError(t, err, "无效的API Key")

	// 前缀不存在
	_, err = service.VerifyApiKey(strings.Repeat("f", 64))
	assert.EqualError(t, err, "无效的API Key")
}

func TestAccessService_VerifyApiKey_Expired(t *testing.T) {
	service := newAccessTestService(t)

	expiresAt := time.Now().Add(-time.Hour)
	_, fullKey, err := service.CreateApiKey("过期测试", "", "", &expiresAt)
	require.NoError(t, err)

	_, err = service.VerifyApiKey(fullKey)
	assert.EqualError(t, err, "API Key已过期")
}

func TestAccessService_VerifyApiKey_Revoked(t *testing.T) {
	service := newAccessTestService(t)

	created, fullKey, err := service.CreateApiKey("吊销测试", "", "", nil)
	require.NoError(t, err)

	require.NoError(t, service.RevokeApiKey(created.ID))

	// 吊销后状态不再是active，验证失败
	_, err = service.VerifyApiKey(fullKey)
	assert.EqualError(t, err, "无效的API Key")

	reloaded, err := service.GetApiKeyByID(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "revoked", reloaded.Status)
}

func TestAccessService_GetApiKeys(t *testing.T) {
	service := newAccessTestService(t)

	first, _, err := service.CreateApiKey("key-1", "", "", nil)
	require.NoError(t, err)
	_, _, err = service.CreateApiKey("key-2", "", "", nil)
	require.NoError(t, err)
	_, _, err = service.CreateApiKey("key-3", "", "", nil)
	require.NoError(t, err)

	require.NoError(t, service.RevokeApiKey(first.ID))

	keys, total, err := service.GetApiKeys(1, 20, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, keys, 3)

	active, total, err := service.GetApiKeys(1, 20, "active")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, active, 2)

	// 分页
	page, total, err := service.GetApiKeys(1, 1, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, page, 1)
}

func TestAccessService_UpdateApiKey(t *testing.T) {
	service := newAccessTestService(t)

	created, _, err := service.CreateApiKey("原名称", "", "", nil)
	require.NoError(t, err)

	err = service.UpdateApiKey(created.ID, map[string]interface{}{
		"name":           "新名称",
		"description":    "更新后的描述",
		"key_value_hash": "forged-hash",
	})
	require.NoError(t, err)

	reloaded, err := service.GetApiKeyByID(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "新名称", reloaded.Name)
	assert.Equal(t, "更新后的描述", reloaded.Description)
	// 哈希字段不允许通过更新接口修改
	assert.Equal(t, created.KeyValueHash, reloaded.KeyValueHash)

	// 没有任何合法字段时报错
	err = service.UpdateApiKey(created.ID, map[string]interface{}{"key_value_hash": "x"})
	assert.Error(t, err)
}

func TestAccessService_DeleteApiKey(t *testing.T) {
	service := newAccessTestService(t)

	created, _, err := service.CreateApiKey("待删除", "", "", nil)
	require.NoError(t, err)

	require.NoError(t, service.DeleteApiKey(created.ID))

	_, err = service.GetApiKeyByID(created.ID)
	assert.Error(t, err)

	err = service.DeleteApiKey("missing-id")
	assert.EqualError(t, err, "ApiKey不存在")
}

func TestGenerateRandomString(t *testing.T) {
	first, err := generateRandomString(64)
	require.NoError(t, err)
	assert.Len(t, first, 64)

	// 结果必须是合法的hex串
	_, err = hex.DecodeString(first)
	assert.NoError(t, err)

	second, err := generateRandomString(64)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}
