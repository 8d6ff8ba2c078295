package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// InstanceFields 提供实例 ID 与监听地址字段，供启动、绑定、关闭日志复用。
func InstanceFields(action, instanceID, host string, port int) logrus.Fields {
	return logrus.Fields{
		"action":   action,
		"instance": instanceID,
		"host":     host,
		"port":     port,
	}
}

// ProvisionFields 提供证书签发相关字段。
func ProvisionFields(instanceID, domain, state string, attempt int) logrus.Fields {
	return logrus.Fields{
		"action":   "provision",
		"instance": instanceID,
		"domain":   domain,
		"state":    state,
		"attempt":  attempt,
	}
}

// RequestFields 提供实例/路由匹配字段，供请求日志复用。
func RequestFields(instanceID, host, path, pattern, requestID string) logrus.Fields {
	return logrus.Fields{
		"instance":   instanceID,
		"host":       host,
		"path":       path,
		"pattern":    pattern,
		"request_id": requestID,
	}
}
