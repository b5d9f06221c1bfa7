package utils

const ShortDashDateLayout = "2006-01-02"
const CompactTimestampLayout = "20060102_1504"
const ReportTimestampLayout = "2006-01-02 15:04 UTC"

const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const TenantHeader = "X-Tenant-ID"
