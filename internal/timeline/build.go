package timeline

// Build 返回一条消息的规范时间线。
//
// agent_events 非空时原样返回 (传输层已排好序, 权威来源);
// 否则由 agent_trace 按原始顺序派生; 两者都空返回 nil。
// 纯函数: 不修改入参, 重复调用结果一致 — 重渲染不得改动已存 meta。
func Build(events []Event, trace []TraceItem) []Event {
	if len(events) > 0 {
		return events
	}
	if len(trace) > 0 {
		return DecodeTrace(trace)
	}
	return nil
}
