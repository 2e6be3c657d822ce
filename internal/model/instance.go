// Package model はドメインモデルを定義する。
package model

// InstanceStatus はレジストリが報告するインスタンスのヘルス状態を表す。
type InstanceStatus string

const (
	// InstanceStatusPassing はヘルスチェックを通過しているインスタンス。
	InstanceStatusPassing InstanceStatus = "passing"
	// InstanceStatusUnknown はヘルス状態が不明（フィルタなし一覧から得た）インスタンス。
	InstanceStatusUnknown InstanceStatus = "unknown"
)

// ServiceInstance はサービスレジストリに登録された1インスタンスを表す。
// ローカルには保持せず、外部呼び出しのたびに解決される。
type ServiceInstance struct {
	ID      string
	Name    string
	Address string
	Port    int
	Status  InstanceStatus
}
