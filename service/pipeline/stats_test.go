/*
 * @module service/pipeline/stats_test
 * @description 统计原语单元测试：百分位数插值、IQR边界与舍入
 * @architecture 测试层 - 纯函数测试，无外部依赖
 * @documentReference .specify/memory/test_plan.md
 * @stateFlow 输入参数 -> 函数调用 -> 输出验证
 * @rules 确保百分位数线性插值与IQR边界计算的数值正确性
 * @dependencies testing, testify
 * @refs stats.go
 */

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentile(t *testing.T) {
	testCases := []struct {
		name     string
		values   []float64
		p        float64
		expected float64
		wantErr  bool
	}{
		{
			name:     "奇数个值的中位数",
			values:   []float64{20, 22, 30},
			p:        0.5,
			expected: 22,
		},
		{
			name:     "偶数个值的中位数线性插值",
			values:   []float64{1, 2, 3, 4},
			p:        0.5,
			expected: 2.5,
		},
		{
			name:     "四分之一分位插值",
			values:   []float64{1, 2, 3, 4},
			p:        0.25,
			expected: 1.75,
		},
		{
			name:     "四分之三分位插值",
			values:   []float64{1, 2, 3, 4},
			p:        0.75,
			expected: 3.25,
		},
		{
			name:     "无序输入先排序",
			values:   []float64{30, 20, 22},
			p:        0.5,
			expected: 22,
		},
		{
			name:     "单值批次任意分位都是该值",
			values:   []float64{42},
			p:        0.75,
			expected: 42,
		},
		{
			name:     "p为0取最小值",
			values:   []float64{5, 1, 9},
			p:        0,
			expected: 1,
		},
		{
			name:     "p为1取最大值",
			values:   []float64{5, 1, 9},
			p:        1,
			expected: 9,
		},
		{
			name:    "空输入报错",
			values:  nil,
			p:       0.5,
			wantErr: true,
		},
		{
			name:    "非法分位参数报错",
			values:  []float64{1, 2},
			p:       1.5,
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := Percentile(tc.values, tc.p)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tc.expected, result, 1e-9)
		})
	}
}

func TestPercentileDoesNotMutateInput(t *testing.T) {
	values := []float64{30, 20, 22}
	_, err := Percentile(values, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []float64{30, 20, 22}, values, "输入切片不应被排序修改")
}

func TestMedianEmptyIsFatal(t *testing.T) {
	_, err := Median(nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestIQRBounds(t *testing.T) {
	// 温度序列 20,21,22,23,100: Q1=21, Q3=23, IQR=2, 边界[18, 26]
	bounds, err := IQRBounds([]float64{20, 21, 22, 23, 100})
	require.NoError(t, err)
	assert.InDelta(t, 21.0, bounds.Q1, 1e-9)
	assert.InDelta(t, 23.0, bounds.Q3, 1e-9)
	assert.InDelta(t, 18.0, bounds.Lower, 1e-9)
	assert.InDelta(t, 26.0, bounds.Upper, 1e-9)

	assert.True(t, bounds.Contains(18.0), "边界为闭区间")
	assert.True(t, bounds.Contains(26.0), "边界为闭区间")
	assert.False(t, bounds.Contains(100.0))
	assert.False(t, bounds.Contains(17.99))
}

func TestIQRBoundsSingleValue(t *testing.T) {
	// 单值批次边界退化为该值本身，该值必然通过
	bounds, err := IQRBounds([]float64{42})
	require.NoError(t, err)
	assert.InDelta(t, 42.0, bounds.Lower, 1e-9)
	assert.InDelta(t, 42.0, bounds.Upper, 1e-9)
	assert.True(t, bounds.Contains(42))
	assert.False(t, bounds.Contains(42.01))
}

func TestIQRBoundsEmptyIsFatal(t *testing.T) {
	_, err := IQRBounds(nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestRoundHelpers(t *testing.T) {
	assert.InDelta(t, 21.46, Round2(21.456), 1e-9)
	assert.InDelta(t, 21.45, Round2(21.454), 1e-9)
	assert.InDelta(t, -21.46, Round2(-21.456), 1e-9)
	assert.InDelta(t, 0.917, Round3(0.91667), 1e-9)
	assert.InDelta(t, 0.4118, Round4(21.0/51.0), 1e-9)
	assert.InDelta(t, 21.0, Round2(21.0), 1e-9)
}
