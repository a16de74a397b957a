package todo

// predefinedEpoch 为 2024-01-01T00:00:00Z，与迁移脚本中的种子数据一致。
const predefinedEpoch int64 = 1704067200000

var predefinedCategories = []Category{
	{ID: "00000000-0000-4000-8000-000000000001", Name: "general", Color: "#6B7280", Icon: "folder"},
	{ID: "00000000-0000-4000-8000-000000000002", Name: "work", Color: "#3B82F6", Icon: "briefcase"},
	{ID: "00000000-0000-4000-8000-000000000003", Name: "personal", Color: "#10B981", Icon: "user"},
	{ID: "00000000-0000-4000-8000-000000000004", Name: "shopping", Color: "#F59E0B", Icon: "shopping-cart"},
	{ID: "00000000-0000-4000-8000-000000000005", Name: "health", Color: "#EF4444", Icon: "heart"},
}

// PredefinedCategories 返回所有用户可见的预置分类。
func PredefinedCategories() []*Category {
	out := make([]*Category, 0, len(predefinedCategories))
	for i, c := range predefinedCategories {
		cp := c
		cp.UserID = ReservedOwner
		cp.CreatedAt = predefinedEpoch + int64(i)
		cp.UpdatedAt = cp.CreatedAt
		out = append(out, &cp)
	}
	return out
}
