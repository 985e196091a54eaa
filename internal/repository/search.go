package repository

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

// matchesText 记录的可搜索字段（id、来源、序列化后的 data/metadata）是否包含 text
// 大小写敏感的子串匹配；各引擎的搜索结果最终都经过这里过滤，不会有误报
func matchesText(rec *models.StorageRecord, text string) bool {
	if text == "" {
		return false
	}
	if strings.Contains(rec.ID, text) ||
		strings.Contains(rec.SourceID, text) ||
		strings.Contains(rec.SourceType, text) {
		return true
	}
	for _, v := range []any{rec.Data, rec.Metadata} {
		if v == nil {
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			continue
		}
		if strings.Contains(string(b), text) {
			return true
		}
	}
	return false
}

// filterText 保留匹配的记录
func filterText(records []*models.StorageRecord, text string) []*models.StorageRecord {
	out := records[:0]
	for _, rec := range records {
		if matchesText(rec, text) {
			out = append(out, rec)
		}
	}
	return out
}

// sortNewestFirst 按观测时间倒序；时间相同保持引擎返回顺序
func sortNewestFirst(records []*models.StorageRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
}

// escapeLike 转义 LIKE 通配符，配合 ESCAPE '\'
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// likePattern 子串匹配的 LIKE 模式
func likePattern(text string) string {
	return "%" + escapeLike(text) + "%"
}

// cloneRecord 深拷贝记录
func cloneRecord(rec *models.StorageRecord) *models.StorageRecord {
	out := *rec
	out.Data = models.CloneValue(rec.Data)
	out.Metadata = models.CloneMap(rec.Metadata)
	out.Quality = models.CloneMap(rec.Quality)
	out.Processing = models.CloneMap(rec.Processing)
	return &out
}
