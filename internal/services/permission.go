package services

import (
	"campusadmin/internal/models"
	"encoding/json"
	"sort"
	"strings"
)

// ========== 权限集合 ==========

// CapabilitySet 菜单权限集合，全系统统一使用的规范表示
type CapabilitySet map[string]struct{}

// NewCapabilitySet 由权限代码构造集合，忽略空白项
func NewCapabilitySet(keys ...string) CapabilitySet {
	set := make(CapabilitySet, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}

// Contains 是否包含
func (s CapabilitySet) Contains(key string) bool {
	_, ok := s[key]
	return ok
}

// Keys 排序后的权限代码
func (s CapabilitySet) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone 复制
func (s CapabilitySet) Clone() CapabilitySet {
	out := make(CapabilitySet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Union 并集
func (s CapabilitySet) Union(other CapabilitySet) CapabilitySet {
	out := s.Clone()
	for k := range other {
		out[k] = struct{}{}
	}
	return out
}

// Intersect 交集
func (s CapabilitySet) Intersect(other CapabilitySet) CapabilitySet {
	out := make(CapabilitySet)
	for k := range s {
		if other.Contains(k) {
			out[k] = struct{}{}
		}
	}
	return out
}

// IsSupersetOf 是否为超集
func (s CapabilitySet) IsSupersetOf(other CapabilitySet) bool {
	for k := range other {
		if !s.Contains(k) {
			return false
		}
	}
	return true
}

// Equal 元素完全相同
func (s CapabilitySet) Equal(other CapabilitySet) bool {
	return len(s) == len(other) && s.IsSupersetOf(other)
}

// MarshalJSON 序列化为排序数组
func (s CapabilitySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Keys())
}

// ========== 权限目录 ==========

var capabilityNames = map[string]string{
	models.CapabilityDashboard: "数据看板",
	models.CapabilitySettings:  "基础设置",
	models.CapabilityContact:   "联系方式",
	"diningmenu":               "餐单管理",
	"maintenance":              "报修管理",
	"laundry":                  "洗衣管理",
	"gatepass":                 "出入登记",
	"notice":                   "通知公告",
	"event":                    "活动管理",
	"deal":                     "优惠管理",
	"faq":                      "常见问题",
	"post":                     "动态管理",
	"hostels":                  "宿舍管理",
	"clubs":                    "社团管理",
}

var (
	allKinds        = []models.TenantKind{models.TenantKindUniversity, models.TenantKindHostel, models.TenantKindClub}
	hostelOnly      = []models.TenantKind{models.TenantKindHostel}
	universityOnly  = []models.TenantKind{models.TenantKindUniversity}
	clubOnly        = []models.TenantKind{models.TenantKindClub}
	hostelOrUni     = []models.TenantKind{models.TenantKindHostel, models.TenantKindUniversity}
	clubOrHostel    = []models.TenantKind{models.TenantKindClub, models.TenantKindHostel}
	baselineKeys    = []string{models.CapabilityDashboard, models.CapabilitySettings, models.CapabilityContact}
	defaultMappings = []models.FeatureMapping{
		{FeatureKey: "diningmenu", CapabilityKey: "diningmenu", Kinds: hostelOnly},
		{FeatureKey: "messmenu", CapabilityKey: "diningmenu", Kinds: hostelOnly},
		{FeatureKey: "maintenance", CapabilityKey: "maintenance", Kinds: hostelOnly},
		{FeatureKey: "laundry", CapabilityKey: "laundry", Kinds: hostelOnly},
		{FeatureKey: "gatepass", CapabilityKey: "gatepass", Kinds: hostelOnly},
		{FeatureKey: "notices", CapabilityKey: "notice", Kinds: hostelOrUni},
		{FeatureKey: "announcements", CapabilityKey: "notice", Kinds: hostelOrUni},
		{FeatureKey: "events", CapabilityKey: "event", Kinds: allKinds},
		{FeatureKey: "deals", CapabilityKey: "deal", Kinds: allKinds},
		{FeatureKey: "faq", CapabilityKey: "faq", Kinds: allKinds},
		{FeatureKey: "posts", CapabilityKey: "post", Kinds: clubOnly},
		{FeatureKey: "hostels", CapabilityKey: "hostels", Kinds: universityOnly},
		{FeatureKey: "clubs", CapabilityKey: "clubs", Kinds: universityOnly},
		{FeatureKey: "gallery", Kinds: clubOrHostel},
		{FeatureKey: "wifi", Kinds: universityOnly},
	}
)

// PermissionCatalog 功能开关与菜单权限的静态映射
type PermissionCatalog struct {
	mappings map[string]models.FeatureMapping
	ordered  []models.FeatureMapping
	baseline CapabilitySet
	universe CapabilitySet
	byKind   map[models.TenantKind][]string
}

// NewPermissionCatalog 创建默认权限目录
func NewPermissionCatalog() *PermissionCatalog {
	c := &PermissionCatalog{
		mappings: make(map[string]models.FeatureMapping, len(defaultMappings)),
		ordered:  defaultMappings,
		baseline: NewCapabilitySet(baselineKeys...),
		byKind:   make(map[models.TenantKind][]string),
	}
	c.universe = c.baseline.Clone()
	for _, m := range defaultMappings {
		c.mappings[m.FeatureKey] = m
		if m.CapabilityKey != "" {
			c.universe[m.CapabilityKey] = struct{}{}
		}
		for _, kind := range m.Kinds {
			c.byKind[kind] = append(c.byKind[kind], m.FeatureKey)
		}
	}
	return c
}

// CapabilityFor 功能开关对应的菜单权限
func (c *PermissionCatalog) CapabilityFor(featureKey string) (string, bool) {
	m, ok := c.mappings[featureKey]
	if !ok || m.CapabilityKey == "" {
		return "", false
	}
	return m.CapabilityKey, true
}

// BaselineCapabilities 无论功能开关如何都授予的权限
func (c *PermissionCatalog) BaselineCapabilities() CapabilitySet {
	return c.baseline.Clone()
}

// Universe 目录中全部权限
func (c *PermissionCatalog) Universe() CapabilitySet {
	return c.universe.Clone()
}

// FeatureVocabulary 指定租户类型可配置的功能开关
func (c *PermissionCatalog) FeatureVocabulary(kind models.TenantKind) []string {
	out := make([]string, len(c.byKind[kind]))
	copy(out, c.byKind[kind])
	return out
}

// Capabilities 带名称的权限列表，供前端渲染勾选项
func (c *PermissionCatalog) Capabilities(set CapabilitySet) []models.Capability {
	out := make([]models.Capability, 0, len(set))
	for _, key := range set.Keys() {
		out = append(out, models.Capability{Key: key, Name: capabilityNames[key]})
	}
	return out
}

// Mappings 完整映射表
func (c *PermissionCatalog) Mappings() []models.FeatureMapping {
	return c.ordered
}

// ========== 权限推导 ==========

// PermissionService 权限推导
type PermissionService struct {
	catalog *PermissionCatalog
}

func NewPermissionService(catalog *PermissionCatalog) *PermissionService {
	return &PermissionService{catalog: catalog}
}

// Catalog 权限目录
func (s *PermissionService) Catalog() *PermissionCatalog {
	return s.catalog
}

// AllowedCapabilities 计算可勾选的权限
// 编辑已有管理员时返回全集，避免历史授权在功能关闭后被静默丢弃
func (s *PermissionService) AllowedCapabilities(tenant *models.Tenant, isEditingExisting bool) CapabilitySet {
	if isEditingExisting {
		return s.catalog.Universe()
	}

	allowed := s.catalog.BaselineCapabilities()
	if tenant == nil {
		return allowed
	}
	for feature, enabled := range tenant.Features() {
		if !enabled {
			continue
		}
		if capability, ok := s.catalog.CapabilityFor(feature); ok {
			allowed[capability] = struct{}{}
		}
	}
	return allowed
}

// Normalize 将历史权限数据统一为权限集合，任何无法识别的形态都得到空集
func (s *PermissionService) Normalize(raw interface{}) CapabilitySet {
	return NormalizePermissions(raw)
}

// NormalizePermissions 支持：字符串数组、分隔符拼接的字符串、权限→布尔映射、空值
func NormalizePermissions(raw interface{}) CapabilitySet {
	switch v := raw.(type) {
	case nil:
		return CapabilitySet{}
	case CapabilitySet:
		return v.Clone()
	case []string:
		return NewCapabilitySet(v...)
	case []interface{}:
		keys := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				keys = append(keys, str)
			}
		}
		return NewCapabilitySet(keys...)
	case string:
		return NewCapabilitySet(splitPermissionString(v)...)
	case map[string]bool:
		keys := make([]string, 0, len(v))
		for k, enabled := range v {
			if enabled {
				keys = append(keys, k)
			}
		}
		return NewCapabilitySet(keys...)
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k, enabled := range v {
			if b, ok := enabled.(bool); ok && b {
				keys = append(keys, k)
			}
		}
		return NewCapabilitySet(keys...)
	case json.RawMessage:
		return decodePermissionJSON(v)
	case []byte:
		return decodePermissionJSON(v)
	default:
		return CapabilitySet{}
	}
}

// decodePermissionJSON 存储边界解码，先按JSON解析，失败时按普通字符串处理
func decodePermissionJSON(data []byte) CapabilitySet {
	if len(data) == 0 {
		return CapabilitySet{}
	}
	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return NewCapabilitySet(splitPermissionString(string(data))...)
	}
	return NormalizePermissions(decoded)
}

func splitPermissionString(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ';' || r == '|' || r == ' ' || r == '\t' || r == '\n'
	})
}

// EncodePermissions 写入存储时统一为排序数组
func EncodePermissions(set CapabilitySet) []byte {
	data, _ := json.Marshal(set.Keys())
	return data
}

// Toggle 勾选或取消单个权限
func (s *PermissionService) Toggle(current CapabilitySet, key string, include bool) CapabilitySet {
	out := current.Clone()
	if include {
		out[key] = struct{}{}
	} else {
		delete(out, key)
	}
	return out
}

// SelectAll 全选
func (s *PermissionService) SelectAll(current, universe CapabilitySet) CapabilitySet {
	return current.Union(universe)
}

// ClearAll 清空
func (s *PermissionService) ClearAll(current CapabilitySet) CapabilitySet {
	return CapabilitySet{}
}
